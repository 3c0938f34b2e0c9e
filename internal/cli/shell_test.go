package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/rcon"
)

func startMock(t *testing.T) *network.MockServer {
	t.Helper()
	m := network.NewMockServer("secret", nil)
	require.NoError(t, m.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() {
		m.Close()
		m.Wait()
	})
	return m
}

func mockProfile(m *network.MockServer, password string) config.Profile {
	return config.Profile{Name: "mock", Host: m.Host(), Port: m.Port(), Password: password, TimeoutSec: 2}
}

type staticProfiles []config.Profile

func (p staticProfiles) GetProfiles() []config.Profile { return p }

type staticHistory struct {
	entries []db.HistoryEntry
	filter  db.HistoryFilter
}

func (h *staticHistory) List(ctx context.Context, filter db.HistoryFilter) ([]db.HistoryEntry, error) {
	h.filter = filter
	return h.entries, nil
}

func runShell(t *testing.T, opts ShellOptions, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.In = strings.NewReader(input)
	opts.Out = &out
	err := NewShell(opts).Run(context.Background())
	return out.String(), err
}

func TestShellExecutesLines(t *testing.T) {
	m := startMock(t)
	out, err := runShell(t, ShellOptions{Profile: mockProfile(m, "secret")}, "status\n\nsay hello world\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Connected to mock")
	assert.Contains(t, out, "echo: status\n")
	assert.Contains(t, out, "echo: say hello world\n")
	assert.Equal(t, int64(2), m.Commands())
}

func TestShellAuthFailure(t *testing.T) {
	m := startMock(t)
	_, err := runShell(t, ShellOptions{Profile: mockProfile(m, "nope")}, "status\n")
	assert.ErrorIs(t, err, rcon.ErrAuthentication)
	assert.Zero(t, m.Commands())
}

func TestShellQuitStopsReading(t *testing.T) {
	m := startMock(t)
	_, err := runShell(t, ShellOptions{Profile: mockProfile(m, "secret")}, ":quit\nstatus\n")
	require.NoError(t, err)
	assert.Zero(t, m.Commands())
}

func TestShellMetaCommands(t *testing.T) {
	m := startMock(t)
	history := &staticHistory{entries: []db.HistoryEntry{{
		Profile: "mock", Command: "status", Source: "shell", Response: "ok", StartedAt: time.Now(), Duration: 12,
	}}}
	profiles := staticProfiles{{Name: "mock", Host: "10.0.0.1", Port: 27015, Password: "hunter2"}}

	out, err := runShell(t, ShellOptions{
		Profile:        mockProfile(m, "secret"),
		DefaultProfile: "mock",
		Profiles:       profiles,
		History:        history,
	}, ":help\n:history 5\n:profiles\n:bogus\n:reconnect\nstatus\n")
	require.NoError(t, err)

	assert.Contains(t, out, ":reconnect")
	assert.Equal(t, 5, history.filter.Limit)
	assert.Equal(t, "mock", history.filter.Profile)
	assert.Contains(t, out, "10.0.0.1:27015")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `Unknown shell command ":bogus"`)
	assert.Contains(t, out, "Reconnected.")
	assert.Contains(t, out, "echo: status")
}

func TestShellReportsLostConnection(t *testing.T) {
	m := startMock(t)
	profile := mockProfile(m, "secret")

	pr, pw := io.Pipe()
	var out syncBuffer
	shell := NewShell(ShellOptions{Profile: profile, In: pr, Out: &out})

	done := make(chan error, 1)
	go func() { done <- shell.Run(context.Background()) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Connected") }, 2*time.Second, 10*time.Millisecond)
	m.Close()
	pw.Write([]byte("status\n"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), ":reconnect") }, 3*time.Second, 10*time.Millisecond)
	pw.Close()

	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "error (")
}

func TestShellPublishesCommands(t *testing.T) {
	m := startMock(t)
	bus := events.NewEventBus()
	defer bus.Stop()

	var (
		mu  sync.Mutex
		got []events.CommandPayload
	)
	bus.Subscribe(events.EventCommandExecuted, "test", func(ctx context.Context, e events.Event) error {
		mu.Lock()
		got = append(got, e.Payload.(events.CommandPayload))
		mu.Unlock()
		return nil
	})

	_, err := runShell(t, ShellOptions{Profile: mockProfile(m, "secret"), Bus: bus}, "status\n")
	require.NoError(t, err)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "shell", got[0].Source)
	assert.Equal(t, "echo: status", got[0].Response)
	assert.Equal(t, "mock", got[0].Profile)
}

func TestRenderHistoryEmpty(t *testing.T) {
	var out bytes.Buffer
	RenderHistory(&out, nil)
	assert.Equal(t, "No commands recorded.\n", out.String())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short"))
	long := strings.Repeat("é", maxCellWidth+5)
	assert.Len(t, []rune(clip(long)), maxCellWidth)
}
