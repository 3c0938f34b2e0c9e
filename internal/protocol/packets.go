// Package protocol implements the Valve Source RCON wire format: a 4-byte
// little-endian length prefix followed by request id, packet type, a
// UTF-8 body and two trailing NUL bytes. The package performs no network
// I/O of its own; ReadPacket and WritePacket work on any io.Reader/Writer.
package protocol

// Packet types. Type 2 serves commands, command responses and
// authentication responses alike, so auth results are decided by request id
// and response types are never inspected. Some servers answer commands
// with type 0, which is accepted the same way.
const (
	TypeAuth          int32 = 3
	TypeAuthResponse  int32 = 2
	TypeExecCommand   int32 = 2
	TypeResponseValue int32 = 2
)

// AuthFailedID is the request id a server echoes when it rejects a password.
const AuthFailedID int32 = -1

// MaxPayloadSize is the conventional payload limit of a single frame. A
// response fragment of exactly this size means more fragments follow.
const MaxPayloadSize = 4096

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 4

// HeaderSize covers the request id and type fields that open every body.
const HeaderSize = 8

// TrailerSize is the NUL terminator plus the NUL pad byte.
const TrailerSize = 2

// MinBodySize is the smallest valid body: header and trailer with no payload.
const MinBodySize = HeaderSize + TrailerSize

// Packet is one decoded RCON frame. Payload holds the bytes exactly as
// received; Body is Payload as text with invalid UTF-8 replaced. Packets
// built for sending only need Body.
type Packet struct {
	RequestID int32
	Type      int32
	Body      string
	Payload   []byte
}
