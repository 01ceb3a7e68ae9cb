package shmtransport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/wire"
	wirebinary "github.com/cdmf/ipc/internal/wire/binary"
)

func newTestRegistry() *wire.Registry {
	return wire.NewRegistry(wirebinary.New())
}

func TestOwnerClientEchoRoundTrip(t *testing.T) {
	channel := Channel{Name: fmt.Sprintf("shmtransport-test-%d", time.Now().UnixNano()), Capacity: 1 << 16}
	registry := newTestRegistry()
	ctx := context.Background()

	owner := NewOwner(channel, registry)
	require.NoError(t, owner.Init(ctx))
	require.NoError(t, owner.Start(ctx, func(ctx context.Context, peer string, m *message.Message) (*message.Message, error) {
		return message.NewResponse(m, append([]byte("echo:"), m.Payload...)), nil
	}))
	defer func() {
		_ = owner.Stop(ctx)
		_ = owner.Cleanup()
	}()

	client := NewClient(registry)
	require.NoError(t, client.Init(ctx))
	require.NoError(t, client.Connect(ctx, channel.Name))
	defer client.Disconnect(ctx)

	req := message.NewRequest("client-1", "echo", []byte("shm-hi"), false)
	require.NoError(t, client.Send(ctx, "", req))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := client.Receive(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:shm-hi"), resp.Payload)
	assert.Equal(t, req.Header.MessageID, resp.Header.CorrelationID)
}

func TestClientConnectWithoutOwnerFails(t *testing.T) {
	registry := newTestRegistry()
	client := NewClient(registry)
	require.NoError(t, client.Init(context.Background()))
	err := client.Connect(context.Background(), "nonexistent-channel-xyz")
	assert.Error(t, err)
}
