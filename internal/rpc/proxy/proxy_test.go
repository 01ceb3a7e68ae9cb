package proxy

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
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func startEchoServer(t *testing.T) (*unixsocket.Server, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("proxy-test-%d.sock", time.Now().UnixNano()%1_000_000))
	registry := newTestRegistry()
	srv := unixsocket.NewServer(path, registry)
	ctx := context.Background()
	require.NoError(t, srv.Init(ctx))
	require.NoError(t, srv.Start(ctx, func(ctx context.Context, peer string, m *message.Message) (*message.Message, error) {
		switch m.Metadata.Subject {
		case "boom":
			return message.NewErrorResponse(m, 1004, "handler exploded", "unknown", ""), nil
		case "slow":
			time.Sleep(200 * time.Millisecond)
			return message.NewResponse(m, m.Payload), nil
		default:
			return message.NewResponse(m, append([]byte("echo:"), m.Payload...)), nil
		}
	}))
	t.Cleanup(func() {
		_ = srv.Stop(ctx)
		_ = srv.Cleanup()
	})
	return srv, path
}

func newTestProxy(t *testing.T) (*Proxy, string) {
	t.Helper()
	_, path := startEchoServer(t)
	registry := newTestRegistry()
	reconnectCfg := transport.DefaultReconnectConfig()
	reconnectCfg.InitialBackoff = time.Millisecond
	client := unixsocket.NewClient(registry, reconnectCfg)
	require.NoError(t, client.Init(context.Background()))

	p := New("test-client", client, DefaultRetryPolicy(), DefaultCircuitBreakerConfig())
	return p, path
}

func TestProxyCallEchoRoundTrip(t *testing.T) {
	p, path := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, path))
	defer p.Disconnect(ctx)

	res, err := p.Call(ctx, "echo", []byte("hello"), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []byte("echo:hello"), res.Data)
	assert.Equal(t, int64(1), p.Stats.Snapshot().Success)
}

func TestProxyCallPropagatesHandlerError(t *testing.T) {
	p, path := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, path))
	defer p.Disconnect(ctx)

	res, err := p.Call(ctx, "boom", nil, time.Second)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.EqualValues(t, 1004, res.ErrorCode)
}

func TestProxyCallTimesOut(t *testing.T) {
	p, path := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, path))
	defer p.Disconnect(ctx)

	res, err := p.Call(ctx, "slow", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, res.Success)
	assert.EqualValues(t, 1, p.Stats.Snapshot().Timeouts)
}

func TestProxyCallOneWayDoesNotWaitForResponse(t *testing.T) {
	p, path := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, path))
	defer p.Disconnect(ctx)

	ok, err := p.CallOneWay(ctx, "echo", []byte("fire-and-forget"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProxyCallBeforeConnectFails(t *testing.T) {
	registry := newTestRegistry()
	client := unixsocket.NewClient(registry, transport.DefaultReconnectConfig())
	require.NoError(t, client.Init(context.Background()))
	p := New("test-client", client, DefaultRetryPolicy(), DefaultCircuitBreakerConfig())

	_, err := p.Call(context.Background(), "echo", nil, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestProxyDisconnectFailsOutstandingCalls(t *testing.T) {
	p, path := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, path))

	resCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := p.Call(ctx, "slow", nil, 5*time.Second)
		resCh <- res
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Disconnect(ctx))

	res := <-resCh
	err := <-errCh
	require.Error(t, err)
	assert.False(t, res.Success)
}
