package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200

	// pruneInterval is how often the retention sweep runs.
	pruneInterval = time.Hour
)

// schema is the journal's single table. Created on first open;
// idempotent on every open after that.
const schema = `
CREATE TABLE IF NOT EXISTS channel_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	area       TEXT NOT NULL,
	device     TEXT NOT NULL,
	channel    TEXT NOT NULL,
	prior      TEXT NOT NULL,
	value      TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channel_history_device
	ON channel_history (area, device, channel, created_at);
CREATE INDEX IF NOT EXISTS idx_channel_history_created
	ON channel_history (created_at);
`

// Entry is one recorded channel state change. Prior is empty for the
// first observation of a channel.
type Entry struct {
	ID        int64     `json:"id"`
	Area      string    `json:"area"`
	Device    string    `json:"device"`
	Channel   string    `json:"channel"`
	Prior     string    `json:"prior,omitempty"`
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Logger defines the logging interface for the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// Recorder journals channel state changes to SQLite.
//
// The journal is advisory: writes are best-effort and a failure never
// blocks event routing. Entries older than the retention period are
// pruned by a background sweep.
type Recorder struct {
	db        *sql.DB
	retention time.Duration
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder initialises the journal schema on an open database.
// A zero retention disables pruning.
func NewRecorder(db *sql.DB, retention time.Duration, logger Logger) (*Recorder, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialising journal schema: %w", err)
	}

	return &Recorder{
		db:        db,
		retention: retention,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// RecordChange inserts one state change entry. Prior may be empty when
// the channel had no previously known state.
func (r *Recorder) RecordChange(ctx context.Context, area, device, channel, prior, value, source string) error {
	if area == "" || device == "" || channel == "" {
		return fmt.Errorf("area, device and channel are required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_history (area, device, channel, prior, value, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		area, device, channel, prior, value, source, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries for one channel, newest first.
// The limit defaults to 50 and is clamped to 200.
func (r *Recorder) Recent(ctx context.Context, area, device, channel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, area, device, channel, prior, value, source, created_at
		 FROM channel_history
		 WHERE area = ? AND device = ? AND channel = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		area, device, channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.Area, &entry.Device, &entry.Channel, &entry.Prior, &entry.Value, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the cutoff and returns how many.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}

	return result.RowsAffected()
}

// StartPruneLoop runs the retention sweep hourly until ctx is cancelled
// or Stop is called. No-op when retention is disabled.
func (r *Recorder) StartPruneLoop(ctx context.Context) {
	if r.retention <= 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				deleted, err := r.Prune(ctx, r.retention)
				if err != nil {
					if r.logger != nil {
						r.logger.Warn("journal prune failed", "error", err)
					}
					continue
				}
				if deleted > 0 && r.logger != nil {
					r.logger.Info("journal pruned", "deleted", deleted)
				}
			}
		}
	}()
}

// Stop halts the prune loop. Safe to call multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}
