// Package store persists chat messages and conversation membership in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/domain/ports"
	"github.com/brianly1003/chatcast/internal/security"
)

// schemaVersion is recorded in the metadata table on every open.
const schemaVersion = 1

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 50

var _ ports.MembershipChecker = (*Store)(nil)

// Message is a stored chat message.
type Message struct {
	ID        int64
	UserID    int64
	Text      string
	CreatedAt time.Time
}

// Projection returns the broadcast payload for the message.
func (m Message) Projection() events.ChatMessage {
	return events.NewChatMessage(m.ID, m.UserID, m.Text, m.CreatedAt)
}

// Options configures Open.
type Options struct {
	Path             string
	BusyTimeout      time.Duration
	MaxMessageLength int // 0 disables the length check
	Now              func() time.Time
}

// Store is the SQLite message store.
type Store struct {
	db     *sql.DB
	path   string
	maxLen int
	now    func() time.Time
}

// Open opens (creating if needed) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single shared connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if opts.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	log.Info().Str("path", opts.Path).Msg("message store opened")
	return &Store{db: db, path: opts.Path, maxLen: opts.MaxMessageLength, now: now}, nil
}

// createSchema creates the database schema.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT);
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
		CREATE TABLE IF NOT EXISTS conversation_members (
			conversation TEXT NOT NULL,
			principal TEXT NOT NULL,
			added_at INTEGER NOT NULL,
			PRIMARY KEY (conversation, principal)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a new message and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, userID int64, text string) (Message, error) {
	if userID <= 0 {
		return Message{}, domain.NewValidationError("user_id", "must be positive")
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, domain.NewValidationError("text", "text is required")
	}
	if s.maxLen > 0 && utf8.RuneCountInString(text) > s.maxLen {
		return Message{}, domain.NewValidationError("text", fmt.Sprintf("text exceeds %d characters", s.maxLen))
	}

	createdAt := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(user_id, text, created_at) VALUES(?,?,?)`,
		userID, text, createdAt.UnixMilli(),
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{ID: id, UserID: userID, Text: text, CreatedAt: createdAt}, nil
}

// Get returns the message with the given ID.
func (s *Store) Get(ctx context.Context, id int64) (Message, error) {
	var m Message
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, text, created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.UserID, &m.Text, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Message{}, err
	}
	m.CreatedAt = time.UnixMilli(ms).UTC()
	return m, nil
}

// List returns up to limit messages, newest first. When before is positive
// only messages with a smaller ID are returned.
func (s *Store) List(ctx context.Context, limit int, before int64) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, user_id, text, created_at FROM messages`
	args := []interface{}{}
	if before > 0 {
		query += ` WHERE id < ?`
		args = append(args, before)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var ms int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &ms); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(ms).UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Count returns the number of stored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// Prune deletes messages created before olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// AddMember adds principal to a conversation. Adding twice is a no-op.
func (s *Store) AddMember(ctx context.Context, conversation, principal string) error {
	if conversation == "" || principal == "" {
		return domain.NewValidationError("member", "conversation and principal are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_members(conversation, principal, added_at) VALUES(?,?,?)
		 ON CONFLICT(conversation, principal) DO NOTHING`,
		conversation, principal, s.now().UnixMilli(),
	)
	return err
}

// RemoveMember removes principal from a conversation.
func (s *Store) RemoveMember(ctx context.Context, conversation, principal string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation = ? AND principal = ?`,
		conversation, principal,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Members returns the principals of a conversation in insertion order.
func (s *Store) Members(ctx context.Context, conversation string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal FROM conversation_members WHERE conversation = ? ORDER BY added_at, principal`,
		conversation,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

// IsMember implements ports.MembershipChecker for the conversation scope.
// Other scopes have no membership table and are never satisfied.
func (s *Store) IsMember(ctx context.Context, principal, scope, target string) (bool, error) {
	if scope != security.ScopeConversation {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_members WHERE conversation = ? AND principal = ?`,
		target, principal,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
