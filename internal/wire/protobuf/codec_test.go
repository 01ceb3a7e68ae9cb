package protobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdmf/ipc/internal/message"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	req := message.NewRequest("client-1", "echo", []byte("protobuf payload"), false)
	req.Header.Format = message.FormatProtobuf
	req.Metadata.ContentType = "application/x-protobuf"
	req.Metadata.MaxRetries = 5
	req.UpdateChecksum()

	c := New()
	data, err := c.Serialize(req)
	require.NoError(t, err)

	got, err := c.Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, req.Header.MessageID, got.Header.MessageID)
	assert.Equal(t, req.Payload, got.Payload)
	assert.Equal(t, req.Metadata.Subject, got.Metadata.Subject)
	assert.Equal(t, req.Metadata.ContentType, got.Metadata.ContentType)
	assert.Equal(t, req.Metadata.MaxRetries, got.Metadata.MaxRetries)
}

func TestRoundTripErrorBlock(t *testing.T) {
	req := message.NewRequest("client-1", "divide", []byte{1, 0}, false)
	errResp := message.NewErrorResponse(req, 1001, "method not found", "ROUTING", "divide")
	errResp.Header.Format = message.FormatProtobuf
	errResp.UpdateChecksum()

	c := New()
	data, err := c.Serialize(errResp)
	require.NoError(t, err)

	got, err := c.Deserialize(data)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, uint32(1001), got.Error.ErrorCode)
	assert.Equal(t, "method not found", got.Error.ErrorMessage)
}

func TestFormatReportsProtobuf(t *testing.T) {
	c := New()
	assert.Equal(t, message.FormatProtobuf, c.Format())
}
