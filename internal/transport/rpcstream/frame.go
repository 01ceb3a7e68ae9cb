// Package rpcstream implements the bidirectional streaming-RPC transport
// contract of spec.md §4.E concretely on github.com/xtaci/smux: one
// smux.Session per TCP/Unix connection, carrying exactly one long-lived
// "logical stream" per spec.md's design note, framed identically to
// internal/transport/unixsocket (u32 length prefix || serialized
// message). smux's own keepalive machinery (KeepAliveInterval/Timeout)
// supplies the periodic pings spec.md §4.E asks for; TLS wraps the raw
// net.Conn before smux ever sees it.
package rpcstream

import (
	"encoding/binary"
	"io"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/wire"
)

const frameLengthSize = 4

// maxFrameSize bounds a single frame read off a logical stream, mirroring
// unixsocket's bound on message.MaxPayloadSize plus framing overhead.
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

// readFrame reads exactly one length-prefixed frame from r, blocking
// until it is available or r returns an error (including a deadline
// expiring, surfaced by the caller as a timeout to retry).
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [frameLengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
