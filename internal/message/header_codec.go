package message

import (
	"encoding/binary"
	"time"
)

// FormatOffset is the byte offset of Header.Format within the fixed
// 56-byte encoded header, exposed so transports can dispatch to the right
// Serializer by peeking a single byte before doing a full decode.
const FormatOffset = 42

// Encode packs h into its fixed 56-byte wire representation.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:16], h.MessageID[:])
	copy(buf[16:32], h.CorrelationID[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.Timestamp.UnixMicro()))
	buf[40] = uint8(h.Type)
	buf[41] = uint8(h.Priority)
	buf[42] = uint8(h.Format)
	buf[43] = h.Version
	binary.LittleEndian.PutUint32(buf[44:48], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[48:52], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[52:56], h.Checksum)
	return buf
}

// DecodeHeader unpacks the fixed 56-byte header region of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrTruncated
	}
	var h Header
	copy(h.MessageID[:], data[0:16])
	copy(h.CorrelationID[:], data[16:32])
	h.Timestamp = time.UnixMicro(int64(binary.LittleEndian.Uint64(data[32:40])))
	h.Type = Type(data[40])
	h.Priority = Priority(data[41])
	h.Format = Format(data[42])
	h.Version = data[43]
	h.Flags = Flags(binary.LittleEndian.Uint32(data[44:48]))
	h.PayloadSize = binary.LittleEndian.Uint32(data[48:52])
	h.Checksum = binary.LittleEndian.Uint32(data[52:56])
	return h, nil
}

// UnixMicroToTime converts a microsecond-since-epoch value, as carried by
// the wire formats' timestamp/expiration fields, back into a time.Time.
func UnixMicroToTime(micros int64) time.Time {
	return time.UnixMicro(micros)
}

// PeekFormat reads Header.Format from a wire buffer without fully decoding
// the header, so a transport can pick the matching Serializer first.
func PeekFormat(data []byte) (Format, error) {
	if len(data) <= FormatOffset {
		return 0, ErrTruncated
	}
	return Format(data[FormatOffset]), nil
}
