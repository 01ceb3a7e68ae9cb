package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/rpc/proxy"
	"github.com/cdmf/ipc/internal/rpc/stub"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func TestDispatchLoadModuleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("sandbox-test-%d.sock", time.Now().UnixNano()%1_000_000))

	srv := unixsocket.NewServer(path, newTestRegistry())
	s := stub.New(srv, stub.DefaultConfig())
	Register(s, func(ctx context.Context, peer string, msg ControlMessage) (ControlMessage, error) {
		require.Equal(t, TypeLoadModule, msg.Type)
		return ControlMessage{
			Type:      TypeModuleLoaded,
			ModuleID:  msg.ModuleID,
			RequestID: msg.RequestID,
		}, nil
	})
	require.NoError(t, s.Serve(context.Background()))
	defer func() {
		_ = s.Stop(context.Background())
		_ = s.Cleanup()
	}()

	reconnectCfg := transport.DefaultReconnectConfig()
	reconnectCfg.InitialBackoff = time.Millisecond
	client := unixsocket.NewClient(newTestRegistry(), reconnectCfg)
	require.NoError(t, client.Init(context.Background()))
	p := proxy.New("sandbox-client", client, proxy.DefaultRetryPolicy(), proxy.DefaultCircuitBreakerConfig())
	require.NoError(t, p.Connect(context.Background(), path))
	defer p.Disconnect(context.Background())

	reply, err := Dispatch(context.Background(), p, ControlMessage{
		Type:      TypeLoadModule,
		ModuleID:  "echo-module",
		RequestID: 42,
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeModuleLoaded, reply.Type)
	assert.Equal(t, "echo-module", reply.ModuleID)
	assert.EqualValues(t, 42, reply.RequestID)
}

func TestControlMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := ControlMessage{Type: TypeStatusQuery, ModuleID: "m1", Payload: "p", RequestID: 7, ErrorCode: 0}
	b, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}
