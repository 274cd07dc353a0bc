package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/text-relay/pkg/protocol"
)

// Journal is an append-only sqlite record of broadcast log entries. It is never
// read back into the relay's state.
type Journal struct {
	db *sql.DB
}

// Entry is one recorded log envelope.
type Entry struct {
	ID        int64
	Message   string
	Content   string
	Timestamp string
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS entries (
    	id integer not null primary key autoincrement,
    	message text not null,
    	content text not null,
    	timestamp text not null
		)`,
	} {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init journal: %w", err)
		}
	}
	slog.Debug("Ensured journal table exists")
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a log envelope. Other envelope types are rejected.
func (j *Journal) Record(ctx context.Context, entry protocol.Envelope) error {
	if entry.Type != protocol.TypeLog {
		return fmt.Errorf("failed to record: unexpected envelope type %q", entry.Type)
	}
	if _, err := j.db.ExecContext(
		ctx, `INSERT INTO entries (message, content, timestamp) VALUES (?, ?, ?)`,
		entry.Message, entry.Content, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to record: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(
		ctx, `SELECT id, message, content, timestamp FROM (
			SELECT id, message, content, timestamp FROM entries ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close", "err", err)
		}
	}(rows)

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Message, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate: %w", err)
	}
	return out, nil
}
