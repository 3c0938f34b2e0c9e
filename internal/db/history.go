package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/events"
)

// DefaultHistoryLimit is used when a filter does not set a limit.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps a single List call.
const MaxHistoryLimit = 1000

// HistoryEntry is one recorded command.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile"`
	Address   string    `json:"address"`
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
}

// HistoryFilter narrows a List call.
type HistoryFilter struct {
	Limit   int
	Profile string
}

// HistoryStore records executed commands in SQLite.
type HistoryStore struct {
	db             *Database
	storeResponses bool
}

// NewHistoryStore opens the history database at dbPath and applies the
// schema. When storeResponses is false, response bodies are not persisted.
func NewHistoryStore(dbPath string, storeResponses bool) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database, storeResponses: storeResponses}
	if err := hs.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return hs, nil
}

func (hs *HistoryStore) migrate() error {
	return hs.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS command_history (
				id TEXT PRIMARY KEY,
				profile TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				command TEXT NOT NULL,
				response TEXT NOT NULL DEFAULT '',
				error_kind TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				started_at INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_history_started ON command_history(started_at);
			CREATE INDEX IF NOT EXISTS idx_history_profile ON command_history(profile, started_at);
		`)
		return err
	})
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Record stores an entry. A missing ID is filled with a random UUID and a
// zero StartedAt with the current time.
func (hs *HistoryStore) Record(ctx context.Context, entry HistoryEntry) (HistoryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if !hs.storeResponses {
		entry.Response = ""
	}

	_, err := hs.db.Exec(ctx, `
		INSERT INTO command_history
			(id, profile, address, command, response, error_kind, error, source, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Profile, entry.Address, entry.Command, entry.Response,
		entry.ErrorKind, entry.Error, entry.Source, entry.StartedAt.UnixMilli(), entry.Duration,
	)
	if err != nil {
		return entry, fmt.Errorf("failed to record command %s: %w", entry.ID, err)
	}
	return entry, nil
}

// List returns entries newest first.
func (hs *HistoryStore) List(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, filter.Profile)
	}

	query := `SELECT id, profile, address, command, response, error_kind, error, source, started_at, duration_ms
		FROM command_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := hs.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e       HistoryEntry
			started int64
		)
		if err := rows.Scan(&e.ID, &e.Profile, &e.Address, &e.Command, &e.Response,
			&e.ErrorKind, &e.Error, &e.Source, &started, &e.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the given age and returns how many rows
// were removed.
func (hs *HistoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := hs.db.Exec(ctx, "DELETE FROM command_history WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Dur("older_than", olderThan).Msg("history pruned")
	}
	return n, nil
}

// Subscribe records every executed command published on the bus.
func (hs *HistoryStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandExecuted, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.CommandPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		_, err := hs.Record(context.WithoutCancel(ctx), EntryFromPayload(p))
		return err
	})
}

// EntryFromPayload converts a command event into a history entry.
func EntryFromPayload(p events.CommandPayload) HistoryEntry {
	return HistoryEntry{
		ID:        p.ID,
		Profile:   p.Profile,
		Address:   p.Address,
		Command:   p.Command,
		Response:  p.Response,
		ErrorKind: p.ErrorKind,
		Error:     p.Error,
		Source:    p.Source,
		StartedAt: p.StartedAt,
		Duration:  p.Duration.Milliseconds(),
	}
}
