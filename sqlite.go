package chatwoot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ============================================================================
// SQLite Storage
// ============================================================================

// SQLiteStorage is a Storage backed by an embedded sqlite database, giving the
// widget offline continuity across restarts. Rows are namespaced by an
// instance key so several widget identities (inbox + contact pairs) can share
// one cache file.
type SQLiteStorage struct {
	db          *sql.DB
	instanceKey string
}

var _ Storage = (*SQLiteStorage)(nil)

const (
	recordKindUser         = "user"
	recordKindContact      = "contact"
	recordKindConversation = "conversation"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS records (
		instance_key TEXT NOT NULL,
		kind         TEXT NOT NULL,
		payload      TEXT NOT NULL,
		PRIMARY KEY (instance_key, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		instance_key TEXT NOT NULL,
		id           INTEGER NOT NULL,
		created_at   TEXT NOT NULL DEFAULT '',
		payload      TEXT NOT NULL,
		PRIMARY KEY (instance_key, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created
		ON messages (instance_key, created_at)`,
}

// OpenSQLiteStorage opens (creating if needed) the cache database at path.
// instanceKey scopes every row this storage reads and writes.
func OpenSQLiteStorage(path, instanceKey string) (*SQLiteStorage, error) {
	if instanceKey == "" {
		return nil, errors.New("sqlite storage: instance key required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	for _, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate cache schema: %w", err)
		}
	}
	return &SQLiteStorage{db: db, instanceKey: instanceKey}, nil
}

func (s *SQLiteStorage) User(ctx context.Context) (*User, error) {
	var user User
	ok, err := s.getRecord(ctx, recordKindUser, &user)
	if err != nil || !ok {
		return nil, err
	}
	return &user, nil
}

func (s *SQLiteStorage) SaveUser(ctx context.Context, user *User) error {
	return s.saveRecord(ctx, recordKindUser, user)
}

func (s *SQLiteStorage) Contact(ctx context.Context) (*Contact, error) {
	var contact Contact
	ok, err := s.getRecord(ctx, recordKindContact, &contact)
	if err != nil || !ok {
		return nil, err
	}
	return &contact, nil
}

func (s *SQLiteStorage) SaveContact(ctx context.Context, contact *Contact) error {
	return s.saveRecord(ctx, recordKindContact, contact)
}

func (s *SQLiteStorage) Conversation(ctx context.Context) (*Conversation, error) {
	var conversation Conversation
	ok, err := s.getRecord(ctx, recordKindConversation, &conversation)
	if err != nil || !ok {
		return nil, err
	}
	return &conversation, nil
}

func (s *SQLiteStorage) SaveConversation(ctx context.Context, conversation *Conversation) error {
	return s.saveRecord(ctx, recordKindConversation, conversation)
}

func (s *SQLiteStorage) Messages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE instance_key = ? ORDER BY created_at, id`,
		s.instanceKey)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStorage) SaveMessage(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (instance_key, id, created_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT (instance_key, id)
		 DO UPDATE SET created_at = excluded.created_at, payload = excluded.payload`,
		s.instanceKey, message.ID, sortableTime(message.CreatedAt), payload)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// SaveMessages replaces the cached set inside one transaction, so a failed
// write never leaves the cache half-overwritten.
func (s *SQLiteStorage) SaveMessages(ctx context.Context, messages []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace messages: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE instance_key = ?`, s.instanceKey); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (instance_key, id, created_at, payload) VALUES (?, ?, ?, ?)
			 ON CONFLICT (instance_key, id)
			 DO UPDATE SET created_at = excluded.created_at, payload = excluded.payload`,
			s.instanceKey, m.ID, sortableTime(m.CreatedAt), payload); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace messages: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE instance_key = ?`, s.instanceKey); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE instance_key = ?`, s.instanceKey); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Dispose() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) getRecord(ctx context.Context, kind string, v any) (bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE instance_key = ? AND kind = ?`,
		s.instanceKey, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", kind, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", kind, err)
	}
	return true, nil
}

func (s *SQLiteStorage) saveRecord(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (instance_key, kind, payload) VALUES (?, ?, ?)
		 ON CONFLICT (instance_key, kind) DO UPDATE SET payload = excluded.payload`,
		s.instanceKey, kind, payload)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

// sortableTime renders a timestamp so lexicographic order in the index equals
// chronological order; the fractional part is fixed-width for that reason.
// Zero times sort before everything.
func sortableTime(t Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
