package unixsocket

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func TestClientServerEchoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("ipc-test-%d.sock", time.Now().UnixNano()%1_000_000))

	registry := newTestRegistry()
	srv := NewServer(path, registry)
	ctx := context.Background()

	require.NoError(t, srv.Init(ctx))
	require.NoError(t, srv.Start(ctx, func(ctx context.Context, peer string, m *message.Message) (*message.Message, error) {
		return message.NewResponse(m, append([]byte("echo:"), m.Payload...)), nil
	}))
	defer func() {
		_ = srv.Stop(ctx)
		_ = srv.Cleanup()
	}()

	cfg := transport.DefaultReconnectConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond

	client := NewClient(registry, cfg)
	require.NoError(t, client.Init(ctx))
	require.NoError(t, client.Connect(ctx, path))
	defer client.Disconnect(ctx)

	req := message.NewRequest("client-1", "echo", []byte("hi"), false)
	require.NoError(t, client.Send(ctx, "", req))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := client.Receive(recvCtx)
	require.NoError(t, err)

	assert.Equal(t, message.TypeResponse, resp.Header.Type)
	assert.Equal(t, req.Header.MessageID, resp.Header.CorrelationID)
	assert.Equal(t, []byte("echo:hi"), resp.Payload)
}

func TestServerStateTransitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.sock")
	registry := newTestRegistry()
	srv := NewServer(path, registry)

	assert.Equal(t, transport.StateUninitialized, srv.State())
	require.NoError(t, srv.Init(context.Background()))
	assert.Equal(t, transport.StateInitialized, srv.State())

	require.NoError(t, srv.Start(context.Background(), func(ctx context.Context, peer string, m *message.Message) (*message.Message, error) {
		return nil, nil
	}))
	assert.Equal(t, transport.StateConnected, srv.State())

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, transport.StateDisconnected, srv.State())
	require.NoError(t, srv.Cleanup())
}

func TestClientSendWithoutConnectFails(t *testing.T) {
	registry := newTestRegistry()
	client := NewClient(registry, transport.DefaultReconnectConfig())
	err := client.Send(context.Background(), "", message.NewHeartbeat("n1"))
	assert.ErrorIs(t, err, errNoActiveConn)
}
