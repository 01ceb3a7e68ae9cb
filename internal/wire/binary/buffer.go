package binary

import (
	"encoding/binary"
	"errors"

	"github.com/valyala/bytebufferpool"
)

var bufferPool bytebufferpool.Pool

// appendUint32 appends v to b as 4 little-endian bytes, used to write the
// region length prefixes ahead of the metadata and error blocks.
func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// encoder writes length-prefixed fields into a pooled, growable buffer.
// Adapted from the hand-rolled arpcdata encoder this module's RPC ancestor
// used for its request/response envelopes, generalized to back a fixed
// message header instead of a length-prefixed whole-frame envelope.
type encoder struct {
	buf *bytebufferpool.ByteBuffer
}

func newEncoder() *encoder {
	return &encoder{buf: bufferPool.Get()}
}

func (e *encoder) release() {
	bufferPool.Put(e.buf)
	e.buf = nil
}

func (e *encoder) writeRaw(b []byte) {
	e.buf.Write(b) //nolint:errcheck // bytebufferpool.Write never fails
}

func (e *encoder) writeUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.writeRaw(tmp[:])
}

func (e *encoder) writeInt64(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	e.writeRaw(tmp[:])
}

func (e *encoder) writeString(s string) {
	e.writeUint32(uint32(len(s)))
	e.writeRaw([]byte(s))
}

func (e *encoder) bytes() []byte {
	return e.buf.B
}

// decoder reads fields back out of a flat byte slice written by encoder,
// tracking its own read cursor.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

var errShortBuffer = errors.New("binary: buffer too short")

func (d *decoder) readUint32() (uint32, error) {
	if len(d.buf)-d.pos < 4 {
		return 0, errShortBuffer
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) readInt64() (int64, error) {
	if len(d.buf)-d.pos < 8 {
		return 0, errShortBuffer
	}
	v := int64(binary.LittleEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUint32()
	if err != nil {
		return "", err
	}
	if len(d.buf)-d.pos < int(n) {
		return "", errShortBuffer
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if len(d.buf)-d.pos < n {
		return nil, errShortBuffer
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}
