// Package message defines the in-memory Message aggregate that is the unit
// of serialization for every transport in this module: a fixed 56-byte
// header, variable-length metadata, an opaque payload, and an optional
// error block.
package message

import (
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// HeaderSize is the fixed, little-endian, packed size of Header on the wire.
const HeaderSize = 56

// MaxPayloadSize is the largest payload a Message may carry: 16 MiB minus
// the fixed header size.
const MaxPayloadSize = 16*1024*1024 - HeaderSize

// ProtocolVersion is the only header version this module understands.
const ProtocolVersion uint8 = 1

// ID is an opaque 128-bit identifier used for both message_id and
// correlation_id.
type ID [16]byte

// NewID generates a fresh random 128-bit identifier.
func NewID() ID {
	return ID(uuid.New())
}

// IsZero reports whether id is the all-zero identifier (used by
// correlation_id on messages that originate no conversation).
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Type enumerates the message kinds carried in the header.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeRequest
	TypeResponse
	TypeEvent
	TypeError
	TypeHeartbeat
	TypeControl
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeEvent:
		return "EVENT"
	case TypeError:
		return "ERROR"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Priority enumerates delivery priority.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Format identifies the wire codec a Message was (or should be)
// serialized with, carried in the header so a receiver can dispatch to
// the matching Serializer.
type Format uint8

const (
	FormatBinary Format = iota
	FormatProtobuf
	FormatFlatBuffers
)

// Flags is a bitset of per-message delivery semantics.
type Flags uint32

const (
	FlagRequireAck Flags = 1 << iota
	FlagCompressed
	FlagEncrypted
	FlagFragmented
	FlagLastFragment
	FlagPersistent
	FlagOrdered
	FlagExpires
	// FlagOneWay marks a REQUEST for which no RESPONSE is expected; the
	// proxy creates no pending-call record for it. It is encoded in the
	// header's flags field with the other bits, so the receiving stub sees
	// it after deserializing and sends no reply.
	FlagOneWay
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Status enumerates a message's delivery/processing lifecycle state as
// tracked by the proxy/stub; it is never itself serialized onto the wire.
type Status int

const (
	StatusCreated Status = iota
	StatusQueued
	StatusSent
	StatusDelivered
	StatusProcessed
	StatusSendFailed
	StatusDeliveryFailed
	StatusProcessingFailed
	StatusTimeout
	StatusRejected
	StatusInvalidFormat
	StatusSizeExceeded
)

// Header is the fixed 56-byte region of a Message.
type Header struct {
	MessageID     ID
	CorrelationID ID
	Timestamp     time.Time
	Type          Type
	Priority      Priority
	Format        Format
	Version       uint8
	Flags         Flags
	PayloadSize   uint32
	Checksum      uint32
}

// Metadata is the variable-length, length-prefixed-string region of a
// Message, in the declared wire order.
type Metadata struct {
	SourceEndpoint      string
	DestinationEndpoint string
	Subject             string // RPC method name
	ContentType         string
	Expiration          time.Time
	RetryCount          uint32
	MaxRetries          uint32
}

// ErrorBlock is present only when Header.Type == TypeError.
type ErrorBlock struct {
	ErrorCode    uint32
	ErrorMessage string
	ErrorCategory string
	ErrorContext string
}

// Message is the complete in-memory aggregate handed to a Serializer.
type Message struct {
	Header   Header
	Metadata Metadata
	Payload  []byte
	Error    *ErrorBlock
}

// New builds a bare message with a fresh message_id, the given type and
// current timestamp; callers fill in Metadata/Payload before serializing.
func New(t Type) *Message {
	return &Message{
		Header: Header{
			MessageID: NewID(),
			Timestamp: time.Now(),
			Type:      t,
			Priority:  PriorityNormal,
			Format:    FormatBinary,
			Version:   ProtocolVersion,
		},
	}
}

// NewRequest builds a REQUEST message addressed to subject (the RPC method
// name) carrying payload. oneWay marks it as expecting no RESPONSE.
func NewRequest(sourceEndpoint, subject string, payload []byte, oneWay bool) *Message {
	m := New(TypeRequest)
	m.Metadata.SourceEndpoint = sourceEndpoint
	m.Metadata.Subject = subject
	m.Payload = payload
	if oneWay {
		m.Header.Flags |= FlagOneWay
	}
	m.UpdateChecksum()
	return m
}

// NewResponse builds a RESPONSE correlated to req.
func NewResponse(req *Message, payload []byte) *Message {
	m := New(TypeResponse)
	m.Header.CorrelationID = req.Header.MessageID
	m.Metadata.DestinationEndpoint = req.Metadata.SourceEndpoint
	m.Payload = payload
	m.UpdateChecksum()
	return m
}

// NewErrorResponse builds an ERROR message correlated to req.
func NewErrorResponse(req *Message, code uint32, msg, category, context string) *Message {
	m := New(TypeError)
	m.Header.CorrelationID = req.Header.MessageID
	m.Metadata.DestinationEndpoint = req.Metadata.SourceEndpoint
	m.Error = &ErrorBlock{
		ErrorCode:     code,
		ErrorMessage:  msg,
		ErrorCategory: category,
		ErrorContext:  context,
	}
	m.UpdateChecksum()
	return m
}

// NewEvent builds a one-way EVENT message.
func NewEvent(subject string, payload []byte) *Message {
	m := New(TypeEvent)
	m.Metadata.Subject = subject
	m.Payload = payload
	m.Header.Flags |= FlagOneWay
	m.UpdateChecksum()
	return m
}

// NewHeartbeat builds an empty-payload HEARTBEAT message.
func NewHeartbeat(sourceEndpoint string) *Message {
	m := New(TypeHeartbeat)
	m.Metadata.SourceEndpoint = sourceEndpoint
	m.Header.Flags |= FlagOneWay
	m.UpdateChecksum()
	return m
}

// IsOneWay reports whether m expects no RESPONSE.
func (m *Message) IsOneWay() bool {
	return m.Header.Flags.Has(FlagOneWay)
}

// UpdateChecksum recomputes Header.Checksum and Header.PayloadSize from
// the current Payload.
func (m *Message) UpdateChecksum() {
	m.Header.PayloadSize = uint32(len(m.Payload))
	if len(m.Payload) == 0 {
		m.Header.Checksum = 0
		return
	}
	m.Header.Checksum = crc32.ChecksumIEEE(m.Payload)
}

// VerifyChecksum reports whether Header.Checksum matches the CRC-32 of
// the current Payload (0 is only valid for an empty payload).
func (m *Message) VerifyChecksum() bool {
	if len(m.Payload) == 0 {
		return m.Header.Checksum == 0
	}
	return m.Header.Checksum == crc32.ChecksumIEEE(m.Payload)
}

// Validate enforces the invariants spec.md §3 requires of any message
// entering serialize/deserialize.
func (m *Message) Validate() error {
	if m.Header.Version != ProtocolVersion {
		return ErrUnsupportedVersion
	}
	if m.Header.Type == TypeUnknown {
		return ErrInvalidMessage
	}
	if len(m.Payload) > MaxPayloadSize {
		return ErrSizeExceeded
	}
	if !m.VerifyChecksum() {
		return ErrChecksumMismatch
	}
	if (m.Header.Type == TypeResponse || m.Header.Type == TypeError) && m.Header.CorrelationID.IsZero() {
		return ErrInvalidMessage
	}
	if m.Header.Type == TypeError && m.Error == nil {
		return ErrInvalidMessage
	}
	return nil
}
