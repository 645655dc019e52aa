package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL DEFAULT '',
		agent_persona TEXT NOT NULL DEFAULT '',
		agent_goal TEXT NOT NULL DEFAULT '',
		special_instructions TEXT NOT NULL DEFAULT '',
		user_display_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		user_message TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_time ON messages(username, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const userColumns = `username, password_hash, agent_persona, agent_goal,
	       special_instructions, user_display_name, created_at, updated_at`

// GetUser retrieves a user document by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	row := s.db.QueryRowContext(ctx, query, username)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.Username, &user.PasswordHash, &user.AgentPersona, &user.AgentGoal,
		&user.SpecialInstructions, &user.UserDisplayName, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(0, createdAt)
	user.UpdatedAt = time.Unix(0, updatedAt)
	return &user, nil
}

// UpsertUser writes the full user document.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (username, password_hash, agent_persona, agent_goal,
			special_instructions, user_display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			agent_persona = excluded.agent_persona,
			agent_goal = excluded.agent_goal,
			special_instructions = excluded.special_instructions,
			user_display_name = excluded.user_display_name,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.Username, user.PasswordHash, user.AgentPersona, user.AgentGoal,
		user.SpecialInstructions, user.UserDisplayName,
		user.CreatedAt.UnixNano(), user.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateProfile overwrites only the agent configuration fields.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, username string, p Profile) error {
	query := `
		UPDATE users SET
			agent_persona = ?,
			agent_goal = ?,
			special_instructions = ?,
			user_display_name = ?,
			updated_at = ?
		WHERE username = ?`

	res, err := s.db.ExecContext(ctx, query,
		p.AgentPersona, p.AgentGoal, p.SpecialInstructions, p.UserDisplayName,
		time.Now().UnixNano(), username,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no user document for %q", username)
	}
	return nil
}

// ListUsers retrieves all user documents ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// AppendMessage appends one turn with a server-assigned ID and timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO messages (id, username, user_message, ai_response, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Username, msg.UserMessage, msg.AIResponse, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to n turns for the user, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, username string, n int) ([]*Message, error) {
	return s.messages(ctx, username, n, "DESC")
}

// OldestMessages returns up to n turns for the user, oldest first.
func (s *SQLiteStore) OldestMessages(ctx context.Context, username string, n int) ([]*Message, error) {
	return s.messages(ctx, username, n, "ASC")
}

func (s *SQLiteStore) messages(ctx context.Context, username string, n int, order string) ([]*Message, error) {
	query := `
		SELECT id, username, user_message, ai_response, created_at
		FROM messages WHERE username = ?
		ORDER BY created_at ` + order + ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, username, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Username, &m.UserMessage, &m.AIResponse, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessages removes the identified turns as one statement.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `DELETE FROM messages WHERE id IN (` + placeholders + `)`
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
