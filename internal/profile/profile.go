// Package profile manages per-user agent configuration documents.
package profile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"alfred-chat/internal/store"
)

const (
	DefaultPersona = "You are a helpful and friendly AI assistant."
	DefaultGoal    = "Answer questions and engage in natural conversation."
)

// Defaults returns the baseline agent configuration for a username.
func Defaults(username string) store.Profile {
	return store.Profile{
		AgentPersona:    DefaultPersona,
		AgentGoal:       DefaultGoal,
		UserDisplayName: username,
	}
}

// FillDefaults fills only the missing fields of p (merge semantics).
func FillDefaults(p store.Profile, username string) store.Profile {
	if p.AgentPersona == "" {
		p.AgentPersona = DefaultPersona
	}
	if p.AgentGoal == "" {
		p.AgentGoal = DefaultGoal
	}
	if p.UserDisplayName == "" {
		p.UserDisplayName = username
	}
	return p
}

type Service struct {
	repo   store.Repository
	logger *zap.Logger
}

func New(repo store.Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// GetOrCreate reads the user's agent profile. When no document exists it
// writes the defaults before returning them, so a later read observes the
// same values. The write side effect is part of the contract.
func (s *Service) GetOrCreate(ctx context.Context, username string) (store.Profile, error) {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return store.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if user != nil {
		return user.Profile(), nil
	}

	s.logger.Warn("profile not found, creating default", zap.String("username", username))
	def := Defaults(username)
	doc := &store.User{
		Username:            username,
		AgentPersona:        def.AgentPersona,
		AgentGoal:           def.AgentGoal,
		SpecialInstructions: def.SpecialInstructions,
		UserDisplayName:     def.UserDisplayName,
	}
	if err := s.repo.UpsertUser(ctx, doc); err != nil {
		return store.Profile{}, fmt.Errorf("write default profile: %w", err)
	}
	return def, nil
}

// Update overwrites the user's agent configuration fields.
func (s *Service) Update(ctx context.Context, username string, p store.Profile) error {
	if err := s.repo.UpdateProfile(ctx, username, p); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	s.logger.Info("settings updated", zap.String("username", username))
	return nil
}
