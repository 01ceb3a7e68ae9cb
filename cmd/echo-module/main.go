// Command echo-module hosts a minimal sandboxed module over the Unix
// domain socket transport: it registers the "echo", "add", "error" and
// "slow" methods spec.md §8's concrete scenarios exercise, plus the
// sandbox control-plane envelope for LOAD_MODULE/START_MODULE/
// STOP_MODULE/STATUS_QUERY (any other type gets an ERROR reply).
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/stub"
	"github.com/cdmf/ipc/internal/sandbox"
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func main() {
	endpoint := flag.String("endpoint", "/tmp/cdmf_echo_module.sock", "unix socket path to listen on")
	moduleID := flag.String("module-id", "echo-module", "module identifier reported over the sandbox control plane")
	flag.Parse()

	log := logging.Component("echo-module")

	registry := wire.NewRegistry(wirebinary.New())
	srv := unixsocket.NewServer(*endpoint, registry)
	s := stub.New(srv, stub.DefaultConfig())

	s.Handle("echo", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		return req.Payload, nil
	})

	s.Handle("add", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		if len(req.Payload) != 8 {
			return nil, errors.New("add: expected 8 bytes (two little-endian i32s)")
		}
		a := int32(binary.LittleEndian.Uint32(req.Payload[0:4]))
		b := int32(binary.LittleEndian.Uint32(req.Payload[4:8]))
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(a+b))
		return out, nil
	})

	s.Handle("error", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		return nil, errors.New("Test error")
	})

	s.Handle("slow", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		time.Sleep(2 * time.Second)
		return req.Payload, nil
	})

	sandbox.Register(s, func(ctx context.Context, peer string, msg sandbox.ControlMessage) (sandbox.ControlMessage, error) {
		switch msg.Type {
		case sandbox.TypeLoadModule:
			log.Info().Str("module_id", msg.ModuleID).Msg("loading module")
			return sandbox.ControlMessage{Type: sandbox.TypeModuleLoaded, ModuleID: *moduleID, RequestID: msg.RequestID}, nil
		case sandbox.TypeStartModule:
			log.Info().Str("module_id", msg.ModuleID).Msg("starting module")
			return sandbox.ControlMessage{Type: sandbox.TypeModuleStarted, ModuleID: *moduleID, RequestID: msg.RequestID}, nil
		case sandbox.TypeStopModule:
			return sandbox.ControlMessage{Type: sandbox.TypeModuleStopped, ModuleID: *moduleID, RequestID: msg.RequestID}, nil
		case sandbox.TypeStatusQuery:
			return sandbox.ControlMessage{Type: sandbox.TypeStatusReport, ModuleID: *moduleID, Payload: "running", RequestID: msg.RequestID}, nil
		default:
			return sandbox.ControlMessage{Type: sandbox.TypeError, RequestID: msg.RequestID, ErrorCode: 1007}, nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Serve(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to serve")
	}
	log.Info().Str("endpoint", *endpoint).Msg("echo-module listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	if err := s.Stop(context.Background()); err != nil {
		log.Warn().Err(err).Msg("stub stop reported an error")
	}
	if err := s.Cleanup(); err != nil {
		log.Warn().Err(err).Msg("stub cleanup reported an error")
	}
}
