package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/events"
)

func openStore(t *testing.T, storeResponses bool) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(filepath.Join(t.TempDir(), "data", "history.db"), storeResponses)
	require.NoError(t, err)
	t.Cleanup(func() { hs.Close() })
	return hs
}

func TestRecordAndList(t *testing.T) {
	hs := openStore(t, true)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	first, err := hs.Record(ctx, HistoryEntry{Profile: "local", Command: "status", Response: "ok", StartedAt: base, Source: "cli"})
	require.NoError(t, err)
	assert.Len(t, first.ID, 36)

	_, err = hs.Record(ctx, HistoryEntry{Profile: "remote", Command: "users", StartedAt: base.Add(time.Second), ErrorKind: "timeout"})
	require.NoError(t, err)

	all, err := hs.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "users", all[0].Command, "newest first")
	assert.Equal(t, "status", all[1].Command)
	assert.Equal(t, "ok", all[1].Response)
	assert.Equal(t, base.UnixMilli(), all[1].StartedAt.UnixMilli())

	local, err := hs.List(ctx, HistoryFilter{Profile: "local"})
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, first.ID, local[0].ID)

	limited, err := hs.List(ctx, HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordWithoutResponses(t *testing.T) {
	hs := openStore(t, false)
	ctx := context.Background()

	_, err := hs.Record(ctx, HistoryEntry{Command: "status", Response: "secret output"})
	require.NoError(t, err)

	entries, err := hs.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Response)
}

func TestPrune(t *testing.T) {
	hs := openStore(t, true)
	ctx := context.Background()

	_, err := hs.Record(ctx, HistoryEntry{Command: "old", StartedAt: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = hs.Record(ctx, HistoryEntry{Command: "new"})
	require.NoError(t, err)

	n, err := hs.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := hs.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Command)
}

func TestSubscribeRecordsEvents(t *testing.T) {
	hs := openStore(t, true)
	bus := events.NewEventBus()
	defer bus.Stop()
	hs.Subscribe(bus)

	bus.Emit(context.Background(), events.Event{
		Type:   events.EventCommandExecuted,
		Source: "test",
		Payload: events.CommandPayload{
			ID:        "00000000-0000-0000-0000-000000000001",
			Profile:   "local",
			Command:   "say hi",
			Response:  "hi",
			Source:    "shell",
			StartedAt: time.Now(),
			Duration:  1500 * time.Millisecond,
		},
	})
	bus.Wait()

	entries, err := hs.List(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "say hi", entries[0].Command)
	assert.Equal(t, "shell", entries[0].Source)
	assert.Equal(t, int64(1500), entries[0].Duration)
}
