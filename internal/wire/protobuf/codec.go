// Package protobuf implements the optional protobuf-wire Serializer: the
// fixed 56-byte header is shared with every format, but metadata and the
// optional error block are framed as protobuf wire-format fields using
// google.golang.org/protobuf/encoding/protowire, selected per-connection
// via Header.Format == message.FormatProtobuf.
package protobuf

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cdmf/ipc/internal/message"
)

// Field numbers for the metadata/error body. There is no generated
// .proto/.pb.go pair here: the body is small and fixed-shape enough to
// encode directly against protowire, the same low-level primitives any
// generated message marshaler itself calls into.
const (
	fieldSourceEndpoint      = 1
	fieldDestinationEndpoint = 2
	fieldSubject             = 3
	fieldContentType         = 4
	fieldExpiration          = 5
	fieldRetryCount          = 6
	fieldMaxRetries          = 7
	fieldErrorCode           = 8
	fieldErrorMessage        = 9
	fieldErrorCategory       = 10
	fieldErrorContext        = 11
)

// Codec is the protobuf-wire Serializer. It holds no state and is safe
// for concurrent use.
type Codec struct{}

// New returns a protobuf Codec.
func New() *Codec {
	return &Codec{}
}

// Format implements wire.Serializer.
func (c *Codec) Format() message.Format {
	return message.FormatProtobuf
}

// Serialize implements wire.Serializer.
func (c *Codec) Serialize(m *message.Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	hdr := m.Header.Encode()
	body := encodeBody(m)

	out := make([]byte, 0, message.HeaderSize+4+len(body)+len(m.Payload))
	out = append(out, hdr[:]...)

	var bodyLen [4]byte
	binary.LittleEndian.PutUint32(bodyLen[:], uint32(len(body)))
	out = append(out, bodyLen[:]...)
	out = append(out, body...)
	out = append(out, m.Payload...)
	return out, nil
}

func encodeBody(m *message.Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSourceEndpoint, protowire.BytesType)
	b = protowire.AppendString(b, m.Metadata.SourceEndpoint)
	b = protowire.AppendTag(b, fieldDestinationEndpoint, protowire.BytesType)
	b = protowire.AppendString(b, m.Metadata.DestinationEndpoint)
	b = protowire.AppendTag(b, fieldSubject, protowire.BytesType)
	b = protowire.AppendString(b, m.Metadata.Subject)
	b = protowire.AppendTag(b, fieldContentType, protowire.BytesType)
	b = protowire.AppendString(b, m.Metadata.ContentType)

	var expUnixMicro int64
	if !m.Metadata.Expiration.IsZero() {
		expUnixMicro = m.Metadata.Expiration.UnixMicro()
	}
	b = protowire.AppendTag(b, fieldExpiration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(expUnixMicro))

	b = protowire.AppendTag(b, fieldRetryCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Metadata.RetryCount))
	b = protowire.AppendTag(b, fieldMaxRetries, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Metadata.MaxRetries))

	if m.Header.Type == message.TypeError && m.Error != nil {
		b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Error.ErrorCode))
		b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
		b = protowire.AppendString(b, m.Error.ErrorMessage)
		b = protowire.AppendTag(b, fieldErrorCategory, protowire.BytesType)
		b = protowire.AppendString(b, m.Error.ErrorCategory)
		b = protowire.AppendTag(b, fieldErrorContext, protowire.BytesType)
		b = protowire.AppendString(b, m.Error.ErrorContext)
	}
	return b
}

// Deserialize implements wire.Serializer.
func (c *Codec) Deserialize(data []byte) (*message.Message, error) {
	hdr, err := message.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	rest := data[message.HeaderSize:]
	if len(rest) < 4 {
		return nil, message.ErrTruncated
	}
	bodyLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < bodyLen {
		return nil, message.ErrTruncated
	}
	body := rest[:bodyLen]
	payload := rest[bodyLen:]

	m := &message.Message{Header: hdr}
	var errBlock message.ErrorBlock
	haveError := false

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]

		switch num {
		case fieldSourceEndpoint, fieldDestinationEndpoint, fieldSubject, fieldContentType,
			fieldErrorMessage, fieldErrorCategory, fieldErrorContext:
			s, m2 := protowire.ConsumeBytes(body)
			if m2 < 0 {
				return nil, protowire.ParseError(m2)
			}
			body = body[m2:]
			switch num {
			case fieldSourceEndpoint:
				m.Metadata.SourceEndpoint = string(s)
			case fieldDestinationEndpoint:
				m.Metadata.DestinationEndpoint = string(s)
			case fieldSubject:
				m.Metadata.Subject = string(s)
			case fieldContentType:
				m.Metadata.ContentType = string(s)
			case fieldErrorMessage:
				errBlock.ErrorMessage = string(s)
				haveError = true
			case fieldErrorCategory:
				errBlock.ErrorCategory = string(s)
				haveError = true
			case fieldErrorContext:
				errBlock.ErrorContext = string(s)
				haveError = true
			}
		case fieldExpiration, fieldRetryCount, fieldMaxRetries, fieldErrorCode:
			v, m2 := protowire.ConsumeVarint(body)
			if m2 < 0 {
				return nil, protowire.ParseError(m2)
			}
			body = body[m2:]
			switch num {
			case fieldExpiration:
				if v != 0 {
					m.Metadata.Expiration = message.UnixMicroToTime(int64(v))
				}
			case fieldRetryCount:
				m.Metadata.RetryCount = uint32(v)
			case fieldMaxRetries:
				m.Metadata.MaxRetries = uint32(v)
			case fieldErrorCode:
				errBlock.ErrorCode = uint32(v)
				haveError = true
			}
		default:
			skip := protowire.ConsumeFieldValue(num, typ, body)
			if skip < 0 {
				return nil, protowire.ParseError(skip)
			}
			body = body[skip:]
		}
	}

	if hdr.Type == message.TypeError && haveError {
		m.Error = &errBlock
	}

	if len(payload) < int(hdr.PayloadSize) {
		return nil, message.ErrTruncated
	}
	if hdr.PayloadSize > 0 {
		m.Payload = append([]byte(nil), payload[:hdr.PayloadSize]...)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
