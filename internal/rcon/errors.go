package rcon

import (
	"errors"
	"fmt"
	"os"

	"github.com/energizer-project/rconctl/internal/protocol"
)

var (
	// ErrConnection means the TCP connection could not be established.
	ErrConnection = errors.New("rcon: unable to connect")
	// ErrConnectionClosed means the stream ended, timed out or failed after
	// connecting. The session is unusable afterwards.
	ErrConnectionClosed = errors.New("rcon: connection closed")
	// ErrAuthentication means the server rejected the password.
	ErrAuthentication = errors.New("rcon: authentication failed")
	// ErrNotAuthenticated is returned by Execute before a successful Authenticate.
	ErrNotAuthenticated = errors.New("rcon: session not authenticated")
	// ErrAlreadyAuthenticated is returned by a second Authenticate call.
	ErrAlreadyAuthenticated = errors.New("rcon: session already authenticated")
	// ErrCommandTooLong rejects command bodies above protocol.MaxPayloadSize.
	ErrCommandTooLong = fmt.Errorf("%w: command exceeds %d bytes", protocol.ErrEncoding, protocol.MaxPayloadSize)

	ErrEncoding = protocol.ErrEncoding
	ErrFraming  = protocol.ErrFraming
)

// ErrorKind is a stable, printable classification of an rcon error.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindConnection           ErrorKind = "connection"
	KindConnectionClosed     ErrorKind = "connection_closed"
	KindTimeout              ErrorKind = "timeout"
	KindAuthentication       ErrorKind = "authentication"
	KindNotAuthenticated     ErrorKind = "not_authenticated"
	KindAlreadyAuthenticated ErrorKind = "already_authenticated"
	KindCommandTooLong       ErrorKind = "command_too_long"
	KindEncoding             ErrorKind = "encoding"
	KindFraming              ErrorKind = "framing"
	KindUnknown              ErrorKind = "unknown"
)

// Kind classifies err. The most specific kind wins: a read that hit its
// deadline is KindTimeout even though it also wraps ErrConnectionClosed.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, ErrAlreadyAuthenticated):
		return KindAlreadyAuthenticated
	case errors.Is(err, ErrCommandTooLong):
		return KindCommandTooLong
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrFraming):
		return KindFraming
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrConnectionClosed):
		return KindConnectionClosed
	default:
		return KindUnknown
	}
}
