// Command sandbox-host drives a module over the Unix domain socket
// transport via the proxy factory, walking through spec.md §8's
// concrete scenarios (echo, integer add, method-not-found, handler
// exception, timeout, large payload, factory caching) and the sandbox
// control-plane LOAD_MODULE/START_MODULE/STATUS_QUERY/STOP_MODULE sequence.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/rpc/factory"
	"github.com/cdmf/ipc/internal/rpc/proxy"
	"github.com/cdmf/ipc/internal/sandbox"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func main() {
	endpoint := flag.String("endpoint", "/tmp/cdmf_echo_module.sock", "unix socket path of the module to drive")
	moduleID := flag.String("module-id", "echo-module", "module identifier to address over the control plane")
	flag.Parse()

	log := logging.Component("sandbox-host")

	builder := func(serviceName, addr string) (transport.Transport, error) {
		cfg := transport.DefaultReconnectConfig()
		cfg.InitialBackoff = 10 * time.Millisecond
		return unixsocket.NewClient(wire.NewRegistry(wirebinary.New()), cfg), nil
	}

	f := factory.New(builder, factory.DefaultConfig())
	defer f.Shutdown(context.Background())

	ctx := context.Background()
	p, err := f.Get(ctx, "echo-module", *endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to echo-module")
	}

	runControlPlaneSequence(ctx, p, *moduleID, log)
	runScenarios(ctx, p, log)

	p2, err := f.Get(ctx, "echo-module", *endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("second factory Get failed")
	}
	if p == p2 {
		log.Info().Int64("cache_hits", f.Stats.Snapshot().CacheHits).Msg("factory caching confirmed: same proxy instance returned")
	} else {
		log.Error().Msg("factory caching FAILED: distinct proxy instances returned for the same key")
	}

	fmt.Println("sandbox-host: all scenarios complete")
}

// runControlPlaneSequence walks LOAD_MODULE -> START_MODULE -> one
// STATUS_QUERY -> STOP_MODULE over the sandbox envelope.
func runControlPlaneSequence(ctx context.Context, p *proxy.Proxy, moduleID string, log zerolog.Logger) {
	loaded, err := sandbox.Dispatch(ctx, p, sandbox.ControlMessage{
		Type: sandbox.TypeLoadModule, ModuleID: moduleID, RequestID: 1,
	}, 2*time.Second)
	if err != nil || loaded.Type != sandbox.TypeModuleLoaded {
		log.Error().Err(err).Msg("LOAD_MODULE failed")
		return
	}

	started, err := sandbox.Dispatch(ctx, p, sandbox.ControlMessage{
		Type: sandbox.TypeStartModule, ModuleID: moduleID, RequestID: 2,
	}, 2*time.Second)
	if err != nil || started.Type != sandbox.TypeModuleStarted {
		log.Error().Err(err).Msg("START_MODULE failed")
		return
	}

	report, err := sandbox.Dispatch(ctx, p, sandbox.ControlMessage{
		Type: sandbox.TypeStatusQuery, ModuleID: moduleID, RequestID: 3,
	}, 2*time.Second)
	if err != nil {
		log.Error().Err(err).Msg("STATUS_QUERY failed")
		return
	}
	log.Info().Str("status", report.Payload).Msg("module status")

	stopped, err := sandbox.Dispatch(ctx, p, sandbox.ControlMessage{
		Type: sandbox.TypeStopModule, ModuleID: moduleID, RequestID: 4,
	}, 2*time.Second)
	if err != nil || stopped.Type != sandbox.TypeModuleStopped {
		log.Error().Err(err).Msg("STOP_MODULE failed")
		return
	}
	log.Info().Str("module_id", moduleID).Msg("control-plane sequence complete")
}

func runScenarios(ctx context.Context, p *proxy.Proxy, log zerolog.Logger) {
	// 1. Echo.
	res, err := p.Call(ctx, "echo", []byte("Hello, World!"), time.Second)
	check(log, "echo", err == nil && res.Success && string(res.Data) == "Hello, World!")

	// 2. Integer add: a=42, b=58 -> 100.
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], 42)
	binary.LittleEndian.PutUint32(payload[4:8], 58)
	res, err = p.Call(ctx, "add", payload, time.Second)
	sum := int32(-1)
	if err == nil && res.Success && len(res.Data) == 4 {
		sum = int32(binary.LittleEndian.Uint32(res.Data))
	}
	check(log, "add", sum == 100)

	// 3. Method not found.
	res, err = p.Call(ctx, "nonexistent", nil, time.Second)
	check(log, "method-not-found", err != nil && !res.Success && res.ErrorCode == 1001)

	// 4. Handler exception.
	res, err = p.Call(ctx, "error", nil, time.Second)
	check(log, "handler-exception", err != nil && !res.Success && res.ErrorCode == 1004)

	// 5. Timeout: handler sleeps 2s, call with 500ms timeout.
	res, err = p.Call(ctx, "slow", nil, 500*time.Millisecond)
	check(log, "timeout", err != nil && !res.Success)
	log.Info().Int64("timeout_calls", p.Stats.Snapshot().Timeouts).Msg("timeout scenario stats")

	// 6. Large payload: 1 MiB, b[i] = i mod 256.
	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i % 256)
	}
	res, err = p.Call(ctx, "echo", big, 5*time.Second)
	matches := err == nil && res.Success && len(res.Data) == len(big)
	if matches {
		for i := range big {
			if res.Data[i] != big[i] {
				matches = false
				break
			}
		}
	}
	check(log, "large-payload", matches)
}

func check(log zerolog.Logger, name string, ok bool) {
	if ok {
		log.Info().Str("scenario", name).Msg("PASS")
	} else {
		log.Error().Str("scenario", name).Msg("FAIL")
	}
}
