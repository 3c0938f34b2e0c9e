// Package rcon implements a Source RCON client session: it owns one TCP
// connection, performs the password handshake and runs commands one at a
// time, reassembling responses the server splits across several frames.
package rcon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/protocol"
)

const (
	DefaultPort    = 25575
	DefaultTimeout = 5 * time.Second
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateFailed
	StateClosed
)

var stateStrings = map[State]string{
	StateUnauthenticated: "unauthenticated",
	StateAuthenticated:   "authenticated",
	StateFailed:          "failed",
	StateClosed:          "closed",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Config holds the parameters needed to open a Session.
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Address returns host:port suitable for net.Dial.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session is a single RCON connection. It is not safe for concurrent use,
// with the exception of Close, which may be called from any goroutine to
// abort a blocked read. Use one Session per concurrent caller.
type Session struct {
	conn     net.Conn
	password string
	timeout  time.Duration
	logger   zerolog.Logger

	// Only touched by the goroutine driving the session.
	requestID     int32
	authenticated bool

	mu    sync.Mutex
	state State
	err   error // sticky error that moved the session to StateFailed
}

// Dial connects to host:port and returns an unauthenticated Session. The
// timeout bounds connection establishment and every later read and write.
func Dial(ctx context.Context, host string, port int, password string, timeout time.Duration) (*Session, error) {
	return DialConfig(ctx, Config{Host: host, Port: port, Password: password, Timeout: timeout})
}

// DialConfig is Dial with the parameters taken from cfg.
func DialConfig(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	addr := cfg.Address()

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, addr, err)
	}

	s := NewSession(conn, cfg.Password, cfg.Timeout)
	s.logger.Debug().Dur("timeout", cfg.Timeout).Msg("connected")
	return s, nil
}

// NewSession wraps an already established connection.
func NewSession(conn net.Conn, password string, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		conn:     conn,
		password: password,
		timeout:  timeout,
		logger: log.With().
			Str("component", "rcon").
			Str("addr", conn.RemoteAddr().String()).
			Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the address of the server.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LastRequestID returns the id used by the most recent request, 0 if none.
func (s *Session) LastRequestID() int32 {
	return s.requestID
}

// Authenticate sends the password and waits for the server's verdict. The
// first frame received afterwards decides: request id -1 is a rejection,
// anything else is success. Servers are not required to echo our id.
func (s *Session) Authenticate() error {
	switch st, stickyErr := s.snapshot(); st {
	case StateClosed:
		return fmt.Errorf("%w: session is closed", ErrConnectionClosed)
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	case StateFailed:
		return stickyErr
	}

	id := s.nextRequestID()
	if err := s.send(id, protocol.TypeAuth, s.password); err != nil {
		return fmt.Errorf("auth request %d: %w", id, err)
	}

	resp, err := s.ReceivePacket()
	if err != nil {
		return fmt.Errorf("auth response %d: %w", id, err)
	}

	if resp.RequestID == protocol.AuthFailedID {
		err := fmt.Errorf("%w: server rejected credentials", ErrAuthentication)
		s.markFailed(err, false)
		s.logger.Warn().Int32("request_id", id).Msg("authentication rejected")
		return err
	}

	s.mu.Lock()
	if s.state == StateUnauthenticated {
		s.state = StateAuthenticated
	}
	s.mu.Unlock()
	s.authenticated = true

	s.logger.Debug().
		Int32("request_id", id).
		Int32("response_id", resp.RequestID).
		Msg("authenticated")
	return nil
}

// Execute runs command and returns the full response text. Fragments are
// collected until one arrives with fewer than protocol.MaxPayloadSize raw
// payload bytes, and the joined bytes are decoded once so a character split
// across fragments survives.
// Frames carrying neither our request id nor 0 are left over from earlier
// exchanges and are skipped.
func (s *Session) Execute(command string) (string, error) {
	switch st, stickyErr := s.snapshot(); {
	case st == StateClosed:
		return "", fmt.Errorf("%w: session is closed", ErrConnectionClosed)
	case st == StateFailed && s.authenticated:
		return "", stickyErr
	case st != StateAuthenticated:
		return "", ErrNotAuthenticated
	}

	if len(command) > protocol.MaxPayloadSize {
		return "", fmt.Errorf("%w (got %d)", ErrCommandTooLong, len(command))
	}

	id := s.nextRequestID()
	if err := s.send(id, protocol.TypeExecCommand, command); err != nil {
		return "", fmt.Errorf("command %d: %w", id, err)
	}

	var (
		response  bytes.Buffer
		fragments int
	)
	for {
		p, err := s.ReceivePacket()
		if err != nil {
			return "", fmt.Errorf("command %d response: %w", id, err)
		}

		if p.RequestID != id && p.RequestID != 0 {
			s.logger.Trace().
				Int32("request_id", id).
				Int32("response_id", p.RequestID).
				Msg("skipping unrelated packet")
			continue
		}

		response.Write(p.Payload)
		fragments++

		if len(p.Payload) < protocol.MaxPayloadSize {
			break
		}
	}

	s.logger.Debug().
		Int32("request_id", id).
		Int("fragments", fragments).
		Int("bytes", response.Len()).
		Msg("command executed")

	return protocol.DecodeText(response.Bytes()), nil
}

// ReceivePacket blocks until one full frame has arrived or the timeout
// expires. On any failure the connection is torn down and the session is
// moved to StateFailed.
func (s *Session) ReceivePacket() (protocol.Packet, error) {
	if s.State() == StateClosed {
		return protocol.Packet{}, fmt.Errorf("%w: session is closed", ErrConnectionClosed)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		s.markFailed(err, true)
		return protocol.Packet{}, err
	}

	p, err := protocol.ReadPacket(s.conn)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		s.markFailed(err, true)
		return protocol.Packet{}, err
	}

	s.logger.Trace().
		Int32("response_id", p.RequestID).
		Int32("type", p.Type).
		Int("bytes", len(p.Payload)).
		Msg("packet received")
	return p, nil
}

// Close releases the connection. It is idempotent and never reports errors
// from an already broken connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug().Err(err).Msg("ignoring close error")
	}
	return nil
}

func (s *Session) send(id, packetType int32, body string) error {
	data, err := protocol.Encode(id, packetType, body)
	if err != nil {
		return err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		s.markFailed(err, true)
		return err
	}

	if _, err := s.conn.Write(data); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		s.markFailed(err, true)
		return err
	}

	s.logger.Trace().
		Int32("request_id", id).
		Int32("type", packetType).
		Int("bytes", len(body)).
		Msg("packet sent")
	return nil
}

func (s *Session) nextRequestID() int32 {
	if s.requestID == math.MaxInt32 {
		s.requestID = 0
	}
	s.requestID++
	return s.requestID
}

func (s *Session) snapshot() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// markFailed records err as the reason the session is unusable. An
// explicit Close always wins over a failure observed afterwards.
func (s *Session) markFailed(err error, teardown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || s.state == StateFailed {
		return
	}
	s.state = StateFailed
	s.err = err

	if teardown {
		s.conn.Close()
		s.logger.Warn().Err(err).Msg("connection torn down")
	}
}
