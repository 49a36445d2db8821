// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/2223010198-web/MonicGpio/internal/data"

	_ "modernc.org/sqlite"
)

// Archive persists timeline events and gunshot detections beyond the
// bounded in-memory logs.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the SQLite archive at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("warning: could not set WAL mode: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		icon TEXT,
		title TEXT NOT NULL,
		description TEXT,
		source TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE TABLE IF NOT EXISTS gunshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		probability REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		audio_bytes INTEGER NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gunshots_timestamp ON gunshots(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveEvent stores a timeline event. Re-saving the same ID is a no-op.
func (a *Archive) SaveEvent(ctx context.Context, e data.Event) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, severity, icon, title, description, source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Severity.String(), e.Icon, e.Title, e.Description, e.Source, e.Timestamp.UnixNano())
	return err
}

// SaveGunshot stores the metadata of a detection; audio is not archived.
func (a *Archive) SaveGunshot(ctx context.Context, g data.GunshotAlert) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO gunshots (probability, timestamp, audio_bytes, received_at)
		VALUES (?, ?, ?, ?)
	`, g.Probability, g.Timestamp.UnixNano(), len(g.Audio), g.ReceivedAt.UnixNano())
	return err
}

// RecentEvents returns up to limit events, newest first.
func (a *Archive) RecentEvents(ctx context.Context, limit int) ([]data.Event, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, severity, icon, title, description, source, timestamp
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]data.Event, 0)
	for rows.Next() {
		var e data.Event
		var sev string
		var icon, desc, source sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &sev, &icon, &e.Title, &desc, &source, &ts); err != nil {
			return nil, err
		}
		if err := e.Severity.UnmarshalText([]byte(sev)); err != nil {
			log.Printf("warning: archived event %s has unknown severity %q", e.ID, sev)
		}
		e.Icon = icon.String
		e.Description = desc.String
		e.Source = source.String
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountGunshots returns how many detections are archived.
func (a *Archive) CountGunshots(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gunshots`).Scan(&n)
	return n, err
}

// Prune removes rows older than cutoff and returns how many were deleted.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		`DELETE FROM events WHERE timestamp < ?`,
		`DELETE FROM gunshots WHERE timestamp < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff.UnixNano())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
