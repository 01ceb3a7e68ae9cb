package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStringCoversAllValues(t *testing.T) {
	for s := StateUninitialized; s <= StateError; s++ {
		assert.NotEqual(t, "UNKNOWN", s.String())
	}
	assert.Equal(t, "UNKNOWN", State(999).String())
}

func TestJitteredBackoffBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := JitteredBackoff(d, 0.2)
		assert.GreaterOrEqual(t, got, 80*time.Millisecond)
		assert.LessOrEqual(t, got, 120*time.Millisecond)
	}
	assert.Equal(t, d, JitteredBackoff(d, 0))
}

func TestDialWithBackoffSucceedsEventually(t *testing.T) {
	cfg := DefaultReconnectConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	attempts := 0
	err := DialWithBackoff(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDialWithBackoffRespectsContextCancel(t *testing.T) {
	cfg := DefaultReconnectConfig()
	cfg.InitialBackoff = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := DialWithBackoff(ctx, cfg, func() error {
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
