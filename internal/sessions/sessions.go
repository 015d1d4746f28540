// Package sessions persists per-chat conversation history in a local SQLite
// file, one session per channel/chat pair.
package sessions

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/shabbark/pocketpaw/internal/providers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Key derives the session key for a chat on a channel.
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

// Info is lightweight session metadata for listings.
type Info struct {
	Key          string    `json:"key"`
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	MessageCount int       `json:"message_count"`
	Updated      time.Time `json:"updated"`
}

// Store keeps chat history in SQLite. A single connection serializes all
// writers, which sidesteps SQLITE_BUSY under concurrent channels.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyMigrations(path); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewMigrator builds a migrator over the embedded schema for the database
// at path. Used by Open and by the migrate CLI command.
func NewMigrator(path string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func applyMigrations(path string) error {
	m, err := NewMigrator(path)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Touch ensures a session row exists for the channel/chat pair and bumps its
// updated timestamp. Returns the session key.
func (s *Store) Touch(ctx context.Context, channel, chatID string) (string, error) {
	key := Key(channel, chatID)
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, channel, chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, channel, chatID, now, now)
	if err != nil {
		return "", fmt.Errorf("touch session %s: %w", key, err)
	}
	return key, nil
}

// AddMessage appends one message to a session's history.
func (s *Store) AddMessage(ctx context.Context, key, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_key, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		key, role, content, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("append message to %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`,
		time.Now().UTC().Unix(), key)
	if err != nil {
		return fmt.Errorf("bump session %s: %w", key, err)
	}
	return nil
}

// History returns the most recent limit messages of a session in
// chronological order. limit <= 0 returns everything.
func (s *Store) History(ctx context.Context, key string, limit int) ([]providers.Message, error) {
	query := `SELECT role, content FROM messages WHERE session_key = ? ORDER BY id`
	args := []any{key}
	if limit > 0 {
		query = `SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE session_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", key, err)
	}
	defer rows.Close()

	var msgs []providers.Message
	for rows.Next() {
		var m providers.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Clear deletes a session's history but keeps the session row.
func (s *Store) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("clear session %s: %w", key, err)
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.key, s.channel, s.chat_id, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_key = s.key)
		FROM sessions s
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updated int64
		if err := rows.Scan(&info.Key, &info.Channel, &info.ChatID, &updated, &info.MessageCount); err != nil {
			return nil, err
		}
		info.Updated = time.Unix(updated, 0).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// TrimHistory keeps only the last keepLast messages of a session. Older
// context is discarded rather than summarized.
func (s *Store) TrimHistory(ctx context.Context, key string, keepLast int) error {
	if keepLast <= 0 {
		return s.Clear(ctx, key)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_key = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_key = ? ORDER BY id DESC LIMIT ?
		)`, key, key, keepLast)
	if err != nil {
		return fmt.Errorf("trim session %s: %w", key, err)
	}
	return nil
}
