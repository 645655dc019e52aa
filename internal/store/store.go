// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"
)

// User is one directory document: the login credential plus the agent
// profile fields a user can edit.
type User struct {
	Username            string
	PasswordHash        string
	AgentPersona        string
	AgentGoal           string
	SpecialInstructions string
	UserDisplayName     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile is the user-editable agent configuration subset of a User document.
type Profile struct {
	AgentPersona        string
	AgentGoal           string
	SpecialInstructions string
	UserDisplayName     string
}

// Profile returns the agent configuration fields of the document.
func (u *User) Profile() Profile {
	return Profile{
		AgentPersona:        u.AgentPersona,
		AgentGoal:           u.AgentGoal,
		SpecialInstructions: u.SpecialInstructions,
		UserDisplayName:     u.UserDisplayName,
	}
}

// Message is one persisted conversational turn. Turns are append-only and
// immutable once written.
type Message struct {
	ID          string
	Username    string
	UserMessage string
	AIResponse  string
	CreatedAt   time.Time
}

// Repository defines the persistence operations for user documents and the
// message log.
type Repository interface {
	// GetUser retrieves a user document by username. Returns nil when absent.
	GetUser(ctx context.Context, username string) (*User, error)

	// UpsertUser writes the full user document. Callers compose merged
	// documents; the repository does not interpret field values.
	UpsertUser(ctx context.Context, user *User) error

	// UpdateProfile overwrites only the agent configuration fields.
	UpdateProfile(ctx context.Context, username string, p Profile) error

	// ListUsers retrieves all user documents ordered by username.
	ListUsers(ctx context.Context) ([]*User, error)

	// AppendMessage appends one turn. ID and CreatedAt are server-assigned
	// when unset.
	AppendMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns up to n turns for the user, newest first.
	RecentMessages(ctx context.Context, username string, n int) ([]*Message, error)

	// OldestMessages returns up to n turns for the user, oldest first.
	OldestMessages(ctx context.Context, username string, n int) ([]*Message, error)

	// DeleteMessages removes the identified turns as one statement.
	DeleteMessages(ctx context.Context, ids []string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
