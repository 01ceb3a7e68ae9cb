package message

import "errors"

var (
	// ErrInvalidMessage covers structural violations: UNKNOWN type reaching
	// serialize/deserialize, a RESPONSE/ERROR with a zero correlation_id, or
	// an ERROR message with no ErrorBlock attached.
	ErrInvalidMessage = errors.New("message: invalid message")

	// ErrUnsupportedVersion is returned when Header.Version does not match
	// ProtocolVersion.
	ErrUnsupportedVersion = errors.New("message: unsupported protocol version")

	// ErrSizeExceeded is returned when a payload exceeds MaxPayloadSize.
	ErrSizeExceeded = errors.New("message: payload size exceeds maximum")

	// ErrChecksumMismatch is returned when the declared checksum does not
	// match the CRC-32 of the payload.
	ErrChecksumMismatch = errors.New("message: checksum mismatch")

	// ErrTruncated is returned by a Serializer when fewer bytes are
	// available than the declared header/metadata/payload framing requires.
	ErrTruncated = errors.New("message: truncated input")
)
