package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		MessageID:     NewID(),
		CorrelationID: NewID(),
		Timestamp:     time.UnixMicro(1_700_000_000_123_456),
		Type:          TypeRequest,
		Priority:      PriorityHigh,
		Format:        FormatProtobuf,
		Version:       ProtocolVersion,
		Flags:         FlagRequireAck | FlagOrdered,
		PayloadSize:   42,
		Checksum:      0xDEADBEEF,
	}

	buf := h.Encode()
	assert.Len(t, buf, HeaderSize)

	decoded, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h.MessageID, decoded.MessageID)
	assert.Equal(t, h.CorrelationID, decoded.CorrelationID)
	assert.True(t, h.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, h.Type, decoded.Type)
	assert.Equal(t, h.Priority, decoded.Priority)
	assert.Equal(t, h.Format, decoded.Format)
	assert.Equal(t, h.Version, decoded.Version)
	assert.Equal(t, h.Flags, decoded.Flags)
	assert.Equal(t, h.PayloadSize, decoded.PayloadSize)
	assert.Equal(t, h.Checksum, decoded.Checksum)
}

func TestPeekFormat(t *testing.T) {
	h := Header{Format: FormatProtobuf, Version: ProtocolVersion}
	buf := h.Encode()

	f, err := PeekFormat(buf[:])
	require.NoError(t, err)
	assert.Equal(t, FormatProtobuf, f)

	_, err = PeekFormat(buf[:FormatOffset])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeHeaderTruncated(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrTruncated)
}
