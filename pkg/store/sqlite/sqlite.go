// Package sqlite implements store.Writer on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/entrhq/loom/pkg/store"
	"github.com/entrhq/loom/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_message (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_transcript_message_created_ts ON transcript_message (created_ts);
`

// Writer stores transcript snapshots in SQLite. Snapshots are append-only,
// so each write inserts the messages past the stored sequence and replaces
// any overlap.
type Writer struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
// Use "file::memory:?cache=shared" for an in-memory database.
func Open(ctx context.Context, dsn string) (*Writer, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Writer{db: db}, nil
}

// Write implements store.Writer.
func (w *Writer) Write(ctx context.Context, sessionID string, msgs []*types.Message) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transcript_message WHERE session_id = ?", sessionID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count stored messages: %w", err)
	}
	if stored > len(msgs) {
		// A shorter snapshot replaces the stored one entirely.
		if _, err := tx.ExecContext(ctx, "DELETE FROM transcript_message WHERE session_id = ? AND seq >= ?", sessionID, len(msgs)); err != nil {
			return fmt.Errorf("failed to trim stored messages: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO transcript_message (session_id, seq, role, body, created_ts) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	// The last stored message may have been rewritten, so it is replaced too.
	from := stored - 1
	if from < 0 || stored > len(msgs) {
		from = 0
	}
	for seq := from; seq < len(msgs); seq++ {
		m := msgs[seq]
		body, err := store.MarshalMessage(m)
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", seq, err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, seq, string(m.Role), string(body), m.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

// Load returns the stored transcript of sessionID in order.
func (w *Writer) Load(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := w.db.QueryContext(ctx,
		"SELECT body FROM transcript_message WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var msgs []*types.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m, err := store.UnmarshalMessage([]byte(body))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Sessions lists the stored session IDs.
func (w *Writer) Sessions(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx,
		"SELECT session_id FROM transcript_message GROUP BY session_id ORDER BY MIN(created_ts)")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
