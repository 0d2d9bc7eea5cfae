package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
	_ "modernc.org/sqlite" // SQLite driver registration
)

// defaultBusyTimeout is the SQLite busy_timeout in milliseconds.
const defaultBusyTimeout = 5000

// timeLayout is a fixed-width UTC timestamp. Width matters: SweepExpired
// compares last_activity lexically in SQL, and RFC3339Nano drops trailing
// fraction zeros, which breaks lexical ordering within a second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		message_count   INTEGER NOT NULL DEFAULT 0,
		last_activity   TEXT    NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT    NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT    NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (conversation_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
}

// SQLiteStore is a Store backed by a SQLite database. History survives
// process restarts; retention policy semantics match MemoryStore exactly.
type SQLiteStore struct {
	db     *sql.DB
	policy Policy

	// now is replaceable in tests.
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) a SQLite database at path and
// returns a Store backed by it. The database uses WAL mode, a 5 s busy
// timeout, and a single connection (SQLite serialises writes). The caller
// closes the store when done.
func OpenSQLiteStore(path string, policy Policy) (*SQLiteStore, error) {
	if policy.MaxHistory <= 0 {
		policy.MaxHistory = DefaultPolicy().MaxHistory
	}
	if policy.MaxAge <= 0 {
		policy.MaxAge = DefaultPolicy().MaxAge
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("conversation: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conversation: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conversation: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conversation: set busy_timeout: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("conversation: apply schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, policy: policy, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds a message inside a single transaction: bump the conversation
// row, insert the message at the next sequence number, trim the oldest rows
// past the policy's MaxHistory.
func (s *SQLiteStore) Append(conversationID string, msg Message) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowStr := s.now().UTC().Format(timeLayout)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, message_count, last_activity)
		VALUES (?, 1, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			message_count = message_count + 1,
			last_activity = excluded.last_activity`,
		conversationID, nowStr,
	); err != nil {
		return fmt.Errorf("conversation: bump conversation: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT message_count FROM conversations WHERE conversation_id = ?",
		conversationID,
	).Scan(&count); err != nil {
		return fmt.Errorf("conversation: read message count: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content)
		VALUES (?, ?, ?, ?)`,
		conversationID, count, string(msg.Role), msg.Content,
	); err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = ? AND seq <= ?`,
		conversationID, count-s.policy.MaxHistory,
	); err != nil {
		return fmt.Errorf("conversation: trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit append: %w", err)
	}
	return nil
}

// History returns the stored messages, lazily deleting an expired
// conversation.
func (s *SQLiteStore) History(conversationID string) ([]Message, error) {
	ctx := context.Background()

	lastActivity, ok, err := s.lastActivity(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if s.now().Sub(lastActivity) > s.policy.MaxAge {
		if err := s.Clear(conversationID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE conversation_id = ?
		ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = provider.MessageRole(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate history: %w", err)
	}
	return msgs, nil
}

// Clear removes the conversation and its messages. No-op if absent.
func (s *SQLiteStore) Clear(conversationID string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("conversation: clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("conversation: clear conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit clear: %w", err)
	}
	return nil
}

// SweepExpired removes all expired conversations and returns the count.
func (s *SQLiteStore) SweepExpired() (int, error) {
	ctx := context.Background()
	cutoff := s.now().UTC().Add(-s.policy.MaxAge).Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id IN (
			SELECT conversation_id FROM conversations WHERE last_activity < ?
		)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("conversation: sweep messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE last_activity < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep conversations: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("conversation: commit sweep: %w", err)
	}
	return int(removed), nil
}

// ListActive returns a snapshot of the stored conversation IDs.
func (s *SQLiteStore) ListActive() ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(), "SELECT conversation_id FROM conversations")
	if err != nil {
		return nil, fmt.Errorf("conversation: list active: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conversation: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate ids: %w", err)
	}
	return ids, nil
}

// Stats returns diagnostics for a conversation.
func (s *SQLiteStore) Stats(conversationID string) (Stats, error) {
	ctx := context.Background()

	var count int
	var lastStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_count, last_activity FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	).Scan(&count, &lastStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("conversation: query stats: %w", err)
	}

	last, err := time.Parse(timeLayout, lastStr)
	if err != nil {
		return Stats{}, fmt.Errorf("conversation: parse last_activity: %w", err)
	}
	return Stats{MessageCount: count, LastActivity: last}, nil
}

// lastActivity reads a conversation's last activity timestamp. The second
// return reports presence.
func (s *SQLiteStore) lastActivity(ctx context.Context, conversationID string) (time.Time, bool, error) {
	var lastStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_activity FROM conversations WHERE conversation_id = ?",
		conversationID,
	).Scan(&lastStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("conversation: query last_activity: %w", err)
	}
	last, err := time.Parse(timeLayout, lastStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("conversation: parse last_activity: %w", err)
	}
	return last, true, nil
}
