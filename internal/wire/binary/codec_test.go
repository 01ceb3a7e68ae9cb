package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	req := message.NewRequest("client-1", "echo", []byte("the quick brown fox"), false)
	req.Metadata.ContentType = "application/octet-stream"
	req.Metadata.MaxRetries = 3

	c := New()
	data, err := c.Serialize(req)
	require.NoError(t, err)

	got, err := c.Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, req.Header.MessageID, got.Header.MessageID)
	assert.Equal(t, req.Header.Type, got.Header.Type)
	assert.Equal(t, req.Payload, got.Payload)
	assert.Equal(t, req.Metadata.Subject, got.Metadata.Subject)
	assert.Equal(t, req.Metadata.ContentType, got.Metadata.ContentType)
	assert.Equal(t, req.Metadata.MaxRetries, got.Metadata.MaxRetries)
	assert.True(t, got.VerifyChecksum())
}

func TestRoundTripErrorMessage(t *testing.T) {
	req := message.NewRequest("client-1", "divide", []byte{1, 0}, false)
	errResp := message.NewErrorResponse(req, 1001, "method not found", "ROUTING", "divide")

	c := New()
	data, err := c.Serialize(errResp)
	require.NoError(t, err)

	got, err := c.Deserialize(data)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, uint32(1001), got.Error.ErrorCode)
	assert.Equal(t, "method not found", got.Error.ErrorMessage)
	assert.Equal(t, req.Header.MessageID, got.Header.CorrelationID)
}

func TestRoundTripEmptyPayload(t *testing.T) {
	hb := message.NewHeartbeat("node-1")

	c := New()
	data, err := c.Serialize(hb)
	require.NoError(t, err)

	got, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
	assert.True(t, got.IsOneWay())
}

func TestDeserializeRejectsCorruptChecksum(t *testing.T) {
	req := message.NewRequest("client-1", "echo", []byte("payload"), false)

	c := New()
	data, err := c.Serialize(req)
	require.NoError(t, err)

	// Flip a payload byte after serialization without updating the header
	// checksum, simulating on-wire corruption.
	data[len(data)-1] ^= 0xFF

	_, err = c.Deserialize(data)
	assert.ErrorIs(t, err, message.ErrChecksumMismatch)
}

func TestDeserializeTruncatedHeader(t *testing.T) {
	c := New()
	_, err := c.Deserialize(make([]byte, 10))
	assert.ErrorIs(t, err, message.ErrTruncated)
}

func TestFormatReportsBinary(t *testing.T) {
	c := New()
	assert.Equal(t, message.FormatBinary, c.Format())
}
