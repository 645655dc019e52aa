// Package auth implements the authentication gate and admin user management.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"alfred-chat/internal/profile"
	"alfred-chat/internal/store"
)

// ErrInvalidCredentials covers both an unknown username and a wrong
// password, so a caller cannot tell which part failed.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrNotAllowed is returned when an admin tries to create a user whose
// username is not in the allow list.
var ErrNotAllowed = errors.New("unauthorized username")

type Service struct {
	repo    store.Repository
	allowed map[string]bool
	admins  map[string]bool
}

func New(repo store.Repository, allowedUsernames, adminUsernames []string) *Service {
	s := &Service{
		repo:    repo,
		allowed: make(map[string]bool, len(allowedUsernames)),
		admins:  make(map[string]bool, len(adminUsernames)),
	}
	for _, u := range allowedUsernames {
		s.allowed[u] = true
	}
	for _, u := range adminUsernames {
		s.admins[u] = true
	}
	return s
}

// Verify checks a plaintext password against the stored hash. Absent users
// and wrong passwords fail identically with ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, username, password string) error {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IsAdmin reports whether the username is in the fixed administrator list.
func (s *Service) IsAdmin(username string) bool {
	return s.admins[username]
}

// AllowedUsernames returns the fixed allow list.
func (s *Service) AllowedUsernames() []string {
	out := make([]string, 0, len(s.allowed))
	for u := range s.allowed {
		out = append(out, u)
	}
	return out
}

// CreateOrUpdate hashes the password and writes the user document, merging
// onto any existing document and filling missing profile fields with
// defaults. Only allow-listed usernames may be created.
func (s *Service) CreateOrUpdate(ctx context.Context, username, password string) error {
	if !s.allowed[username] {
		return ErrNotAllowed
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	doc, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return fmt.Errorf("fetch existing user: %w", err)
	}
	if doc == nil {
		doc = &store.User{Username: username}
	}
	p := profile.FillDefaults(doc.Profile(), username)
	doc.AgentPersona = p.AgentPersona
	doc.AgentGoal = p.AgentGoal
	doc.SpecialInstructions = p.SpecialInstructions
	doc.UserDisplayName = p.UserDisplayName
	doc.PasswordHash = string(hash)

	if err := s.repo.UpsertUser(ctx, doc); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// List returns all user documents with the password hash stripped.
func (s *Service) List(ctx context.Context) ([]*store.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	return users, nil
}
