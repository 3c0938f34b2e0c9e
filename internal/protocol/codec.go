package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEncoding is returned when a payload cannot be put on the wire as text.
	ErrEncoding = errors.New("rcon: payload encoding error")
	// ErrFraming is returned for truncated or impossible frame headers and bodies.
	ErrFraming = errors.New("rcon: framing error")
)

// Encode builds a complete frame:
// [length:4][request_id:4][type:4][body...][0x00][0x00], little-endian.
// The codec enforces no size limit; that is left to the caller.
func Encode(requestID, packetType int32, body string) ([]byte, error) {
	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrEncoding)
	}

	return EncodeRaw(requestID, packetType, []byte(body)), nil
}

// EncodeRaw frames payload as is, without the UTF-8 check. Servers use it
// for response fragments that may split a multi-byte character.
func EncodeRaw(requestID, packetType int32, payload []byte) []byte {
	b := NewPacketBuilder()
	b.WriteInt32(requestID)
	b.WriteInt32(packetType)
	b.WriteBody(payload)
	return b.BuildWithLength()
}

// DecodeHeader parses the length prefix. Only the first four bytes are read.
// A declared length below MinBodySize, negative values included, cannot
// hold the id, type and trailer and is rejected with ErrFraming.
func DecodeHeader(data []byte) (int32, error) {
	if len(data) < LengthPrefixSize {
		return 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFraming, LengthPrefixSize, len(data))
	}

	length := int32(binary.LittleEndian.Uint32(data[:LengthPrefixSize]))
	if length < MinBodySize {
		return 0, fmt.Errorf("%w: declared body length %d is below minimum %d", ErrFraming, length, MinBodySize)
	}
	return length, nil
}

// DecodeBody splits a body (everything after the length prefix) into its
// fields. Invalid UTF-8 in the payload is replaced rather than rejected and
// the two trailing bytes are dropped without checking their values, so a
// garbled or slightly non-conformant server response still decodes. The
// raw payload is kept in Packet.Payload.
func DecodeBody(data []byte) (Packet, error) {
	if len(data) < MinBodySize {
		return Packet{}, fmt.Errorf("%w: body needs at least %d bytes, got %d", ErrFraming, MinBodySize, len(data))
	}

	payload := bytes.Clone(data[HeaderSize : len(data)-TrailerSize])
	return Packet{
		RequestID: int32(binary.LittleEndian.Uint32(data[0:4])),
		Type:      int32(binary.LittleEndian.Uint32(data[4:8])),
		Body:      DecodeText(payload),
		Payload:   payload,
	}, nil
}

// DecodeText turns payload bytes into text, replacing each run of invalid
// UTF-8 with U+FFFD.
func DecodeText(payload []byte) string {
	return strings.ToValidUTF8(string(payload), string(utf8.RuneError))
}

// ReadPacket reads exactly one frame from r. Reads are accumulated until the
// declared length is satisfied, so readers that return a byte at a time are
// fine; a stream that ends early yields io.ErrUnexpectedEOF (or io.EOF when
// nothing at all was read) and never a short packet.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet length: %w", err)
	}

	length, err := DecodeHeader(header[:])
	if err != nil {
		return Packet{}, err
	}

	// Grow with the data actually received instead of trusting the prefix
	// for a single large allocation.
	var body bytes.Buffer
	n, err := io.CopyN(&body, r, int64(length))
	if n < int64(length) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, fmt.Errorf("failed to read packet body (%d of %d bytes): %w", n, length, err)
	}

	return DecodeBody(body.Bytes())
}

// WritePacket encodes p and writes it to w in a single Write call.
func WritePacket(w io.Writer, p Packet) error {
	data, err := Encode(p.RequestID, p.Type, p.Body)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}
