package shmring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	name := fmt.Sprintf("shmring-test-%d-%d", t.Name()[0], capacity)
	r, err := Create(name, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPushPopRoundTrip(t *testing.T) {
	r := newTestRing(t, 4096)

	require.NoError(t, r.Push([]byte("hello")))
	require.NoError(t, r.Push([]byte("world")))

	got, ok, err := r.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	got, ok, err = r.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), got)

	_, ok, err = r.Pop()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushFailsWhenFull(t *testing.T) {
	r := newTestRing(t, 64)

	payload := make([]byte, 32)
	require.NoError(t, r.Push(payload))
	err := r.Push(payload)
	assert.ErrorIs(t, err, ErrFull)
}

func TestPushRejectsOversizedFrame(t *testing.T) {
	r := newTestRing(t, 64)
	err := r.Push(make([]byte, 128))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWraparound(t *testing.T) {
	r := newTestRing(t, 64)

	for i := 0; i < 20; i++ {
		payload := []byte{byte(i)}
		require.NoError(t, r.Push(payload))
		got, ok, err := r.Pop()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload, got)
	}
}

func TestCreateRejectsNonPowerOfTwo(t *testing.T) {
	_, err := Create("shmring-test-invalid-cap", 100)
	assert.ErrorIs(t, err, ErrNotPowerOfTwo)
}

func TestOpenExistingRing(t *testing.T) {
	name := "shmring-test-open-shared"
	writer, err := Create(name, 256)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := Open(name)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Push([]byte("shared")))
	got, ok, err := reader.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), got)
}

func TestClosedRingRejectsOperations(t *testing.T) {
	r := newTestRing(t, 64)
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Push([]byte("x")), ErrClosed)
	_, _, err := r.Pop()
	assert.ErrorIs(t, err, ErrClosed)
}
