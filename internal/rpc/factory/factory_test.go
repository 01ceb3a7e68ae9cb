package factory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/stub"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func startEchoStub(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("factory-test-%d.sock", time.Now().UnixNano()%1_000_000))
	srv := unixsocket.NewServer(path, newTestRegistry())
	s := stub.New(srv, stub.DefaultConfig())
	s.Handle("echo", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		return req.Payload, nil
	})
	require.NoError(t, s.Serve(context.Background()))
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		_ = s.Cleanup()
	})
	return path
}

func unixBuilder(serviceName, endpoint string) (transport.Transport, error) {
	cfg := transport.DefaultReconnectConfig()
	cfg.InitialBackoff = time.Millisecond
	return unixsocket.NewClient(newTestRegistry(), cfg), nil
}

func TestFactoryGetCachesProxy(t *testing.T) {
	path := startEchoStub(t)
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = time.Hour
	cfg.CleanupInterval = time.Hour
	f := New(unixBuilder, cfg)
	defer f.Shutdown(context.Background())

	ctx := context.Background()
	p1, err := f.Get(ctx, "echo-service", path)
	require.NoError(t, err)
	p2, err := f.Get(ctx, "echo-service", path)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.EqualValues(t, 1, f.Stats.Snapshot().Created)
	assert.EqualValues(t, 1, f.Stats.Snapshot().CacheHits)
	assert.Equal(t, 1, f.CachedCount())
}

func TestFactoryProxyRoundTrip(t *testing.T) {
	path := startEchoStub(t)
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = time.Hour
	cfg.CleanupInterval = time.Hour
	f := New(unixBuilder, cfg)
	defer f.Shutdown(context.Background())

	ctx := context.Background()
	p, err := f.Get(ctx, "echo-service", path)
	require.NoError(t, err)

	res, err := p.Call(ctx, "echo", []byte("hi"), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []byte("hi"), res.Data)
}

func TestFactoryEvictsIdleProxies(t *testing.T) {
	path := startEchoStub(t)
	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.HealthCheckInterval = time.Hour
	f := New(unixBuilder, cfg)
	defer f.Shutdown(context.Background())

	ctx := context.Background()
	_, err := f.Get(ctx, "echo-service", path)
	require.NoError(t, err)
	require.Equal(t, 1, f.CachedCount())

	require.Eventually(t, func() bool {
		return f.CachedCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, f.Stats.Snapshot().Evicted)
}
