package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLNeverNil(t *testing.T) {
	require.NotNil(t, L())
}

func TestInitReplacesLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(zerolog.New(&buf).With().Str("service", "test").Logger())
	t.Cleanup(func() { Init(newDefault(&bytes.Buffer{})) })

	L().Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "test")
}

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(zerolog.New(&buf))

	c := Component("stub")
	c.Info().Msg("dispatching")
	assert.Contains(t, buf.String(), "stub")
}
