// Package web provides the HTTP route layer: thin request/response
// marshalling over the chat pipeline and the user directory.
package web

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"alfred-chat/internal/chat"
	"alfred-chat/internal/session"
	"alfred-chat/internal/store"
	"alfred-chat/web"
)

// Number of turns shown on the chat page, newest last.
const historyPageSize = 10

// Timestamps are localized to a fixed timezone for display.
const (
	displayTimezone   = "America/Los_Angeles"
	displayTimeFormat = "Jan 02, 03:04 PM"
)

// AuthService defines the authentication operations required by the handlers.
type AuthService interface {
	Verify(ctx context.Context, username, password string) error
	IsAdmin(username string) bool
	CreateOrUpdate(ctx context.Context, username, password string) error
	List(ctx context.Context) ([]*store.User, error)
	AllowedUsernames() []string
}

// ProfileService defines the agent-profile operations required by the handlers.
type ProfileService interface {
	GetOrCreate(ctx context.Context, username string) (store.Profile, error)
	Update(ctx context.Context, username string, p store.Profile) error
}

// ChatService defines the turn pipeline operations required by the handlers.
type ChatService interface {
	Respond(ctx context.Context, username, message string) (string, error)
	VoiceRespond(ctx context.Context, username string, audio []byte, filename string) (*chat.VoiceResult, error)
	History(ctx context.Context, username string, n int) ([]*store.Message, error)
	ClearHistory(ctx context.Context, username string) (int, error)
}

// Pinger verifies connectivity of the backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Capabilities reports which external services were configured at startup.
// Exposed through the readiness endpoint instead of nullable client handles.
type Capabilities struct {
	Model  bool
	Speech bool
}

type Server struct {
	auth     AuthService
	profiles ProfileService
	pipeline ChatService
	sessions *session.Manager
	db       Pinger
	caps     Capabilities
	logger   *zap.Logger
	tmpl     *template.Template
	loc      *time.Location
}

func NewServer(
	authSvc AuthService,
	profiles ProfileService,
	pipeline ChatService,
	sessions *session.Manager,
	db Pinger,
	caps Capabilities,
	logger *zap.Logger,
) (*Server, error) {
	tmpl, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	loc, err := time.LoadLocation(displayTimezone)
	if err != nil {
		return nil, fmt.Errorf("load display timezone: %w", err)
	}
	return &Server{
		auth:     authSvc,
		profiles: profiles,
		pipeline: pipeline,
		sessions: sessions,
		db:       db,
		caps:     caps,
		logger:   logger,
		tmpl:     tmpl,
		loc:      loc,
	}, nil
}

// Router constructs the HTTP handler serving every page and API endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(withRequestLogging(s.logger))
	r.Use(s.sessions.Middleware)

	// Public
	r.Get("/", s.handleLanding)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLoginSubmit)
	r.Get("/logout", s.handleLogout)
	r.Get("/healthz", s.handleHealth)

	// Authenticated pages
	r.Group(func(r chi.Router) {
		r.Use(s.requirePage)
		r.Get("/chat", s.handleChatPage)
		r.Get("/audiochat", s.handleAudioChatPage)
		r.Get("/settings", s.handleSettingsPage)
		r.Post("/settings", s.handleSettingsSubmit)
	})

	// Authenticated JSON API
	r.Group(func(r chi.Router) {
		r.Use(s.requireAPI)
		r.Post("/chat", s.handleChatMessage)
		r.Post("/transcribe_and_chat", s.handleTranscribeAndChat)
		r.Post("/clear-history", s.handleClearHistory)
	})

	// Admin pages
	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/admin/create-user", s.handleAdminUsersPage)
		r.Post("/admin/create-user", s.handleAdminCreateUser)
	})

	return r
}
