package stub

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/rpcerr"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/transport/unixsocket"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func newTestStub(t *testing.T, cfg Config) (*Stub, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("stub-test-%d.sock", time.Now().UnixNano()%1_000_000))
	registry := newTestRegistry()
	srv := unixsocket.NewServer(path, registry)
	s := New(srv, cfg)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		_ = s.Cleanup()
	})
	return s, path
}

func dialClient(t *testing.T, path string) *unixsocket.Client {
	t.Helper()
	registry := newTestRegistry()
	reconnectCfg := transport.DefaultReconnectConfig()
	reconnectCfg.InitialBackoff = time.Millisecond
	client := unixsocket.NewClient(registry, reconnectCfg)
	require.NoError(t, client.Init(context.Background()))
	require.NoError(t, client.Connect(context.Background(), path))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func TestStubDispatchesRegisteredMethod(t *testing.T) {
	s, path := newTestStub(t, DefaultConfig())
	s.Handle("add", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		return []byte("3"), nil
	})
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "add", []byte("1,2"), false)
	require.NoError(t, client.Send(context.Background(), "", req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.TypeResponse, resp.Header.Type)
	assert.Equal(t, []byte("3"), resp.Payload)
}

func TestStubUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, path := newTestStub(t, DefaultConfig())
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "nope", nil, false)
	require.NoError(t, client.Send(context.Background(), "", req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, resp.Header.Type)
	assert.EqualValues(t, rpcerr.CodeMethodNotFound, resp.Error.ErrorCode)
}

func TestStubHandlerExceptionReturnsHandlerException(t *testing.T) {
	s, path := newTestStub(t, DefaultConfig())
	s.Handle("boom", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		panic("kaboom")
	})
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "boom", nil, false)
	require.NoError(t, client.Send(context.Background(), "", req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, resp.Header.Type)
	assert.EqualValues(t, rpcerr.CodeHandlerException, resp.Error.ErrorCode)
}

func TestStubHandlerTimeoutReturnsHandlerTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	s, path := newTestStub(t, cfg)
	s.Handle("slow", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "slow", nil, false)
	require.NoError(t, client.Send(context.Background(), "", req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, resp.Header.Type)
	assert.EqualValues(t, rpcerr.CodeHandlerTimeout, resp.Error.ErrorCode)
	assert.EqualValues(t, 1, s.Stats.Snapshot().HandlerTimeoutCount)
}

func TestStubValidationFailureReturnsValidationFailed(t *testing.T) {
	s, path := newTestStub(t, DefaultConfig())
	s.Validate = func(ctx context.Context, peer string, req *message.Message) error {
		return errors.New("missing field")
	}
	s.Handle("add", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "add", nil, false)
	require.NoError(t, client.Send(context.Background(), "", req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, rpcerr.CodeValidationFailed, resp.Error.ErrorCode)
}

func TestStubOneWayRequestSendsNoResponse(t *testing.T) {
	s, path := newTestStub(t, DefaultConfig())
	called := make(chan struct{}, 1)
	s.Handle("notify", func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		called <- struct{}{}
		return nil, nil
	})
	require.NoError(t, s.Serve(context.Background()))

	client := dialClient(t, path)
	req := message.NewRequest("test", "notify", nil, true)
	require.NoError(t, client.Send(context.Background(), "", req))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Receive(ctx)
	assert.Error(t, err)
}
