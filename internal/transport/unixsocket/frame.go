// Package unixsocket implements the Unix-domain-socket transport: an
// edge-triggered epoll accept/read loop on the server side, and a
// reconnecting client dialing the same socket path. Every message is
// length-prefix framed over the stream; the frame payload is whatever
// internal/wire Serializer matches the message's header Format byte.
package unixsocket

import (
	"encoding/binary"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/wire"
)

// frameLengthSize is the byte count of the length prefix placed before
// every serialized message on the stream.
const frameLengthSize = 4

// maxFrameSize bounds a single frame, mirroring message.MaxPayloadSize
// plus header/metadata overhead, to keep a misbehaving peer from growing
// a read buffer without bound.
const maxFrameSize = message.MaxPayloadSize + message.HeaderSize + 4096

// encodeFrame serializes m with registry and prefixes it with its length.
func encodeFrame(registry *wire.Registry, m *message.Message) ([]byte, error) {
	body, err := registry.Serialize(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, frameLengthSize+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[frameLengthSize:], body)
	return out, nil
}

// frameReader incrementally extracts complete length-prefixed frames from
// bytes appended by a non-blocking reader.
type frameReader struct {
	buf []byte
}

// feed appends newly read bytes.
func (fr *frameReader) feed(b []byte) {
	fr.buf = append(fr.buf, b...)
}

// next pops the next complete frame body, if any.
func (fr *frameReader) next() (body []byte, ok bool, err error) {
	if len(fr.buf) < frameLengthSize {
		return nil, false, nil
	}
	n := binary.LittleEndian.Uint32(fr.buf[:frameLengthSize])
	if n > maxFrameSize {
		return nil, false, errFrameTooLarge
	}
	total := frameLengthSize + int(n)
	if len(fr.buf) < total {
		return nil, false, nil
	}
	body = append([]byte(nil), fr.buf[frameLengthSize:total]...)
	fr.buf = fr.buf[total:]
	return body, true, nil
}

// decodeFrame peeks the wire Format byte out of a frame body and hands it
// to the matching Serializer.
func decodeFrame(registry *wire.Registry, body []byte) (*message.Message, error) {
	format, err := message.PeekFormat(body)
	if err != nil {
		return nil, err
	}
	codec, err := registry.For(format)
	if err != nil {
		return nil, err
	}
	return codec.Deserialize(body)
}
