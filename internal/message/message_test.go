package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestChecksumRoundTrip(t *testing.T) {
	req := NewRequest("client-1", "echo", []byte("hello world"), false)

	require.True(t, req.VerifyChecksum())
	assert.Equal(t, uint32(len("hello world")), req.Header.PayloadSize)
	assert.NoError(t, req.Validate())
}

func TestChecksumDetectsCorruption(t *testing.T) {
	req := NewRequest("client-1", "echo", []byte("hello world"), false)
	req.Payload[0] ^= 0xFF

	assert.False(t, req.VerifyChecksum())
	assert.ErrorIs(t, req.Validate(), ErrChecksumMismatch)
}

func TestEmptyPayloadChecksumIsZero(t *testing.T) {
	req := NewRequest("client-1", "ping", nil, true)

	assert.Equal(t, uint32(0), req.Header.Checksum)
	assert.True(t, req.VerifyChecksum())
}

func TestResponseCorrelatesToRequest(t *testing.T) {
	req := NewRequest("client-1", "add", []byte{1, 2}, false)
	resp := NewResponse(req, []byte{3})

	assert.Equal(t, req.Header.MessageID, resp.Header.CorrelationID)
	assert.Equal(t, TypeResponse, resp.Header.Type)
	require.NoError(t, resp.Validate())
}

func TestErrorResponseRequiresErrorBlock(t *testing.T) {
	req := NewRequest("client-1", "divide", []byte{1, 0}, false)
	errResp := NewErrorResponse(req, 1001, "method not found", "ROUTING", "divide")

	require.NotNil(t, errResp.Error)
	assert.Equal(t, req.Header.MessageID, errResp.Header.CorrelationID)
	assert.NoError(t, errResp.Validate())

	// An ERROR message constructed without an ErrorBlock must fail validation.
	broken := New(TypeError)
	broken.Header.CorrelationID = NewID()
	broken.UpdateChecksum()
	assert.ErrorIs(t, broken.Validate(), ErrInvalidMessage)
}

func TestResponseWithZeroCorrelationIDIsInvalid(t *testing.T) {
	resp := New(TypeResponse)
	resp.UpdateChecksum()

	assert.ErrorIs(t, resp.Validate(), ErrInvalidMessage)
}

func TestUnknownTypeIsInvalid(t *testing.T) {
	m := New(TypeUnknown)
	m.UpdateChecksum()

	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)
}

func TestOversizedPayloadRejected(t *testing.T) {
	m := New(TypeRequest)
	m.Payload = make([]byte, MaxPayloadSize+1)
	m.UpdateChecksum()

	assert.ErrorIs(t, m.Validate(), ErrSizeExceeded)
}

func TestOneWayFlagOnEventAndHeartbeat(t *testing.T) {
	ev := NewEvent("topic.created", []byte("payload"))
	assert.True(t, ev.IsOneWay())

	hb := NewHeartbeat("node-1")
	assert.True(t, hb.IsOneWay())
	assert.Equal(t, uint32(0), hb.Header.PayloadSize)
}

func TestIDZeroValue(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())

	fresh := NewID()
	assert.False(t, fresh.IsZero())
	assert.NotEmpty(t, fresh.String())
}
