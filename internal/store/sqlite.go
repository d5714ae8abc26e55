package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNoCredential signals that no API credential has been stored yet.
var ErrNoCredential = errors.New("no credential stored")

const credentialName = "gemini_api_key"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS history_messages (
        id TEXT PRIMARY KEY, -- UUID
        problem_title TEXT NOT NULL,
        position INTEGER NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'error')),
        text TEXT NOT NULL,
        timestamp TEXT NOT NULL -- RFC 3339
    );

    CREATE INDEX IF NOT EXISTS idx_history_messages_title
        ON history_messages (problem_title, position);

    CREATE TABLE IF NOT EXISTS credentials (
        name TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// SaveHistory replaces the stored transcript for problemTitle with messages.
// Delete and insert run in one transaction so a failed save never leaves a
// half-replaced record behind.
func (s *SQLiteStore) SaveHistory(ctx context.Context, problemTitle string, messages []ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history_messages WHERE problem_title = ?", problemTitle); err != nil {
		return fmt.Errorf("failed to clear prior history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO history_messages (id, problem_title, position, role, text, timestamp) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := msg.Timestamp.UTC().Format(time.RFC3339Nano)
		if _, err := stmt.ExecContext(ctx, id, problemTitle, i, string(msg.Role), msg.Text, ts); err != nil {
			return fmt.Errorf("failed to insert history message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// LoadHistory returns the stored transcript for problemTitle in insertion
// order, or an empty slice when no record exists.
func (s *SQLiteStore) LoadHistory(ctx context.Context, problemTitle string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, role, text, timestamp FROM history_messages WHERE problem_title = ? ORDER BY position ASC", problemTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var role, ts string
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		msg.Role = Role(role)
		msg.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse history timestamp %q: %w", ts, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return messages, nil
}

// SetCredential stores the API key, replacing any prior value.
func (s *SQLiteStore) SetCredential(ctx context.Context, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP",
		credentialName, value)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored API key, or ErrNoCredential.
func (s *SQLiteStore) GetCredential(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM credentials WHERE name = ?", credentialName).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to query credential: %w", err)
	}
	return value, nil
}
