package console

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/protocol"
	"github.com/energizer-project/rconctl/internal/rcon"
)

type profileMap map[string]config.Profile

func (m profileMap) GetProfile(name string) (config.Profile, bool) {
	p, ok := m[name]
	return p, ok
}

func startMock(t *testing.T, handler network.Handler) *network.MockServer {
	t.Helper()
	m := network.NewMockServer("secret", handler)
	require.NoError(t, m.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() {
		m.Close()
		m.Wait()
	})
	return m
}

func profileFor(m *network.MockServer, password string) config.Profile {
	return config.Profile{Name: "test", Host: m.Host(), Port: m.Port(), Password: password, TimeoutSec: 2}
}

// collector gathers events of the given types.
type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func collect(bus *events.EventBus, types ...events.EventType) *collector {
	c := &collector{}
	for _, typ := range types {
		bus.Subscribe(typ, "collector", func(ctx context.Context, e events.Event) error {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
			return nil
		})
	}
	return c
}

func (c *collector) byType(typ events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRunSuccessPublishesEvent(t *testing.T) {
	m := startMock(t, nil)
	bus := events.NewEventBus()
	defer bus.Stop()
	c := collect(bus, events.EventCommandExecuted)

	r := NewRunner(profileMap{"test": profileFor(m, "secret")}, bus)
	res, err := r.Run(context.Background(), Request{Profile: "test", Command: "status", Source: SourceGateway})
	require.NoError(t, err)
	assert.Equal(t, "echo: status", res.Response)
	assert.Equal(t, "test", res.Profile)
	assert.Equal(t, m.Addr().String(), res.Address)
	assert.Len(t, res.ID, 36)

	bus.Wait()
	got := c.byType(events.EventCommandExecuted)
	require.Len(t, got, 1)
	p := got[0].Payload.(events.CommandPayload)
	assert.Equal(t, res.ID, p.ID)
	assert.Equal(t, SourceGateway, p.Source)
	assert.Equal(t, "echo: status", p.Response)
	assert.True(t, p.OK())
}

func TestRunReassemblesLargeResponse(t *testing.T) {
	big := strings.Repeat("z", protocol.MaxPayloadSize*2+17)
	m := startMock(t, func(string) string { return big })

	r := NewRunner(profileMap{"test": profileFor(m, "secret")}, nil)
	res, err := r.Run(context.Background(), Request{Profile: "test", Command: "dump"})
	require.NoError(t, err)
	assert.Equal(t, big, res.Response)
}

func TestRunKeepsCharacterOnFrameBoundary(t *testing.T) {
	// "é" is two bytes; the first lands at the end of the first frame.
	text := strings.Repeat("a", protocol.MaxPayloadSize-1) + "é and more"
	m := startMock(t, func(string) string { return text })

	r := NewRunner(profileMap{"test": profileFor(m, "secret")}, nil)
	res, err := r.Run(context.Background(), Request{Profile: "test", Command: "dump"})
	require.NoError(t, err)
	assert.Equal(t, text, res.Response)
}

func TestRunAuthFailure(t *testing.T) {
	m := startMock(t, nil)
	bus := events.NewEventBus()
	defer bus.Stop()
	c := collect(bus, events.EventCommandExecuted, events.EventAuthFailed)

	r := NewRunner(profileMap{"test": profileFor(m, "wrong")}, bus)
	_, err := r.Run(context.Background(), Request{Profile: "test", Command: "status"})
	require.ErrorIs(t, err, rcon.ErrAuthentication)

	bus.Wait()
	require.Len(t, c.byType(events.EventAuthFailed), 1)
	executed := c.byType(events.EventCommandExecuted)
	require.Len(t, executed, 1)
	p := executed[0].Payload.(events.CommandPayload)
	assert.Equal(t, string(rcon.KindAuthentication), p.ErrorKind)
	assert.NotContains(t, p.Error, "wrong")
	assert.Equal(t, SourceCLI, p.Source)
}

func TestRunUnknownProfile(t *testing.T) {
	r := NewRunner(profileMap{}, nil)
	_, err := r.Run(context.Background(), Request{Profile: "missing", Command: "status"})
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestRunAdhocTarget(t *testing.T) {
	m := startMock(t, nil)
	r := NewRunner(nil, nil)

	target := config.Profile{Host: m.Host(), Port: m.Port(), Password: "secret"}
	res, err := r.Run(context.Background(), Request{Target: &target, Command: "list"})
	require.NoError(t, err)
	assert.Equal(t, "adhoc", res.Profile)
	assert.Equal(t, "echo: list", res.Response)
}

func TestRunConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	r := NewRunner(nil, nil)
	target := config.Profile{Host: "127.0.0.1", Port: addr.Port, Password: "x", TimeoutSec: 1}
	_, err = r.Run(context.Background(), Request{Target: &target, Command: "status"})
	require.ErrorIs(t, err, rcon.ErrConnection)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := startMock(t, func(cmd string) string {
		<-release
		return "late"
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := NewRunner(profileMap{"test": profileFor(m, "secret")}, nil)
	start := time.Now()
	_, err := r.Run(ctx, Request{Profile: "test", Command: "slow"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, err, rcon.ErrConnectionClosed)
	assert.Less(t, time.Since(start), time.Second)
}
