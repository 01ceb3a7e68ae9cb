// Package binary implements the module's primary wire format: a fixed
// 56-byte header followed by length-prefixed metadata fields, a raw
// payload, and an optional error block. It is the default Serializer
// selected whenever Header.Format == message.FormatBinary.
package binary

import (
	"time"

	"github.com/cdmf/ipc/internal/message"
)

// Codec is the binary Serializer. It holds no state and is safe for
// concurrent use.
type Codec struct{}

// New returns a binary Codec.
func New() *Codec {
	return &Codec{}
}

// Format implements wire.Serializer.
func (c *Codec) Format() message.Format {
	return message.FormatBinary
}

// Serialize implements wire.Serializer. The frame follows spec.md §4.A/§6's
// authoritative byte layout: [56B header][u32 meta_len][meta][payload]
// [u32 err_len][err], the error region present iff Type == ERROR.
func (c *Codec) Serialize(m *message.Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	hdr := m.Header.Encode()

	metaEnc := newEncoder()
	defer metaEnc.release()
	metaEnc.writeString(m.Metadata.SourceEndpoint)
	metaEnc.writeString(m.Metadata.DestinationEndpoint)
	metaEnc.writeString(m.Metadata.Subject)
	metaEnc.writeString(m.Metadata.ContentType)
	if m.Metadata.Expiration.IsZero() {
		metaEnc.writeInt64(0)
	} else {
		metaEnc.writeInt64(m.Metadata.Expiration.UnixMicro())
	}
	metaEnc.writeUint32(m.Metadata.RetryCount)
	metaEnc.writeUint32(m.Metadata.MaxRetries)
	meta := metaEnc.bytes()

	var errBytes []byte
	if m.Header.Type == message.TypeError {
		errEnc := newEncoder()
		defer errEnc.release()
		errEnc.writeUint32(m.Error.ErrorCode)
		errEnc.writeString(m.Error.ErrorMessage)
		errEnc.writeString(m.Error.ErrorCategory)
		errEnc.writeString(m.Error.ErrorContext)
		errBytes = errEnc.bytes()
	}

	total := message.HeaderSize + 4 + len(meta) + len(m.Payload)
	if m.Header.Type == message.TypeError {
		total += 4 + len(errBytes)
	}
	out := make([]byte, 0, total)
	out = append(out, hdr[:]...)
	out = appendUint32(out, uint32(len(meta)))
	out = append(out, meta...)
	out = append(out, m.Payload...)
	if m.Header.Type == message.TypeError {
		out = appendUint32(out, uint32(len(errBytes)))
		out = append(out, errBytes...)
	}
	return out, nil
}

// Deserialize implements wire.Serializer, reading the region order and
// length prefixes Serialize writes: [u32 meta_len][meta][payload]
// [u32 err_len][err].
func (c *Codec) Deserialize(data []byte) (*message.Message, error) {
	hdr, err := message.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	rest := newDecoder(data[message.HeaderSize:])

	metaLen, err := rest.readUint32()
	if err != nil {
		return nil, err
	}
	metaBytes, err := rest.readBytes(int(metaLen))
	if err != nil {
		return nil, err
	}

	m := &message.Message{Header: hdr}
	dec := newDecoder(metaBytes)

	if m.Metadata.SourceEndpoint, err = dec.readString(); err != nil {
		return nil, err
	}
	if m.Metadata.DestinationEndpoint, err = dec.readString(); err != nil {
		return nil, err
	}
	if m.Metadata.Subject, err = dec.readString(); err != nil {
		return nil, err
	}
	if m.Metadata.ContentType, err = dec.readString(); err != nil {
		return nil, err
	}
	expUnixMicro, err := dec.readInt64()
	if err != nil {
		return nil, err
	}
	if expUnixMicro != 0 {
		m.Metadata.Expiration = time.UnixMicro(expUnixMicro)
	}
	if m.Metadata.RetryCount, err = dec.readUint32(); err != nil {
		return nil, err
	}
	if m.Metadata.MaxRetries, err = dec.readUint32(); err != nil {
		return nil, err
	}

	payload, err := rest.readBytes(int(hdr.PayloadSize))
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		m.Payload = append([]byte(nil), payload...)
	}

	if hdr.Type == message.TypeError {
		errLen, err := rest.readUint32()
		if err != nil {
			return nil, err
		}
		errBytes, err := rest.readBytes(int(errLen))
		if err != nil {
			return nil, err
		}
		edec := newDecoder(errBytes)
		eb := &message.ErrorBlock{}
		if eb.ErrorCode, err = edec.readUint32(); err != nil {
			return nil, err
		}
		if eb.ErrorMessage, err = edec.readString(); err != nil {
			return nil, err
		}
		if eb.ErrorCategory, err = edec.readString(); err != nil {
			return nil, err
		}
		if eb.ErrorContext, err = edec.readString(); err != nil {
			return nil, err
		}
		m.Error = eb
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
