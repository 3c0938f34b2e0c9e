// Package network holds listener helpers and an in-process RCON server
// used to exercise clients without a game server.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// ReadTimeout is how long an idle client may stay connected.
const ReadTimeout = 60 * time.Second

// Handler produces the response body for one command.
type Handler func(command string) string

// EchoHandler answers every command with "echo: <command>".
func EchoHandler(command string) string {
	return "echo: " + command
}

// MockServer speaks the server side of RCON on a TCP listener. Responses
// longer than one frame are split across several RESPONSE_VALUE frames the
// way Source servers do.
type MockServer struct {
	password string
	handler  Handler
	logger   zerolog.Logger

	listener net.Listener
	commands atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMockServer creates a server that accepts password and answers with
// handler. A nil handler means EchoHandler.
func NewMockServer(password string, handler Handler) *MockServer {
	if handler == nil {
		handler = EchoHandler
	}
	return &MockServer{
		password: password,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
		stopCh:   make(chan struct{}),
		logger:   log.With().Str("component", "mock_server").Logger(),
	}
}

// Start binds addr and serves connections in the background until ctx is
// done or Close is called. Use "127.0.0.1:0" for an ephemeral port.
func (m *MockServer) Start(ctx context.Context, addr string) error {
	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start mock server on %s: %w", addr, err)
	}
	m.listener = ln
	m.logger = m.logger.With().Str("addr", ln.Addr().String()).Logger()
	m.logger.Info().Msg("mock RCON server listening")

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.stopCh:
		}
	}()
	go func() {
		defer m.wg.Done()
		m.acceptLoop()
	}()
	return nil
}

func (m *MockServer) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conns[conn] = struct{}{}
		m.wg.Add(1)
		m.mu.Unlock()

		go func() {
			defer m.wg.Done()
			m.handleConnection(conn)
		}()
	}
}

// handleConnection runs the handshake then answers commands until the
// client leaves. A wrong password or a command before auth ends the
// connection.
func (m *MockServer) handleConnection(conn net.Conn) {
	logger := m.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	authenticated := false
	for {
		conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		p, err := protocol.ReadPacket(conn)
		if err != nil {
			logger.Debug().Err(err).Msg("client disconnected")
			return
		}

		switch {
		case p.Type == protocol.TypeAuth:
			if p.Body != m.password {
				logger.Warn().Int32("request_id", p.RequestID).Msg("authentication rejected")
				m.write(conn, protocol.AuthFailedID, protocol.TypeAuthResponse, "")
				return
			}
			authenticated = true
			m.write(conn, p.RequestID, protocol.TypeAuthResponse, "")

		case !authenticated:
			logger.Warn().Msg("command before authentication")
			return

		default:
			m.commands.Add(1)
			for _, chunk := range SplitResponse(m.handler(p.Body)) {
				if err := m.write(conn, p.RequestID, protocol.TypeResponseValue, chunk); err != nil {
					logger.Debug().Err(err).Msg("failed to write response")
					return
				}
			}
		}
	}
}

// write sends body unchecked: a response chunk may end or start inside a
// multi-byte character.
func (m *MockServer) write(conn net.Conn, id, typ int32, body string) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(protocol.EncodeRaw(id, typ, []byte(body))); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}

// SplitResponse cuts body into frames of exactly MaxPayloadSize bytes plus
// a shorter final frame, which is empty when body fills its last frame.
// Clients stop reading at the first short frame, so every frame but the
// last must be full even if that splits a multi-byte character.
func SplitResponse(body string) []string {
	var chunks []string
	for len(body) >= protocol.MaxPayloadSize {
		chunks = append(chunks, body[:protocol.MaxPayloadSize])
		body = body[protocol.MaxPayloadSize:]
	}
	return append(chunks, body)
}

// Addr returns the bound address. Only valid after Start.
func (m *MockServer) Addr() net.Addr {
	return m.listener.Addr()
}

// Host returns the bound IP as a string.
func (m *MockServer) Host() string {
	host, _, _ := net.SplitHostPort(m.Addr().String())
	return host
}

// Port returns the bound TCP port.
func (m *MockServer) Port() int {
	_, port, _ := net.SplitHostPort(m.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns how many commands have been answered.
func (m *MockServer) Commands() int64 {
	return m.commands.Load()
}

// Close stops the listener and drops every client. It is safe to call more
// than once.
func (m *MockServer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopCh)
	var err error
	if m.listener != nil {
		err = m.listener.Close()
	}
	for c := range m.conns {
		c.Close()
	}
	m.mu.Unlock()

	m.logger.Debug().Msg("mock RCON server stopped")
	return err
}

// Wait blocks until every goroutine started by Start has returned.
func (m *MockServer) Wait() {
	m.wg.Wait()
}
