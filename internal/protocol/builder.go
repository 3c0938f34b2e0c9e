package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder assembles little-endian frame bodies.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteBody writes the payload followed by the NUL terminator and NUL pad.
func (b *PacketBuilder) WriteBody(data []byte) *PacketBuilder {
	b.buf.Write(data)
	b.buf.WriteByte(0)
	b.buf.WriteByte(0)
	return b
}

// BuildWithLength returns the frame with its 4-byte LE length prefix.
func (b *PacketBuilder) BuildWithLength() []byte {
	data := b.buf.Bytes()
	result := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint32(result[:LengthPrefixSize], uint32(int32(len(data))))
	copy(result[LengthPrefixSize:], data)
	return result
}
