// Package session implements the signed-cookie session manager.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const CookieName = "alfred_session"

// Session is the browser's authenticated state. Unauthenticated by default.
type Session struct {
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username"`
	IsAdmin       bool      `json:"is_admin"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type contextKey int

const sessionKey contextKey = iota

// FromContext extracts the session from the request context. The zero
// Session is returned when none was established.
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey).(Session); ok {
		return s
	}
	return Session{}
}

// Manager signs and verifies session cookies with an HMAC-SHA256 key.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewManager(secret string, ttl time.Duration, secure bool) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, secure: secure}
}

// Issue sets a signed session cookie on the response.
func (m *Manager) Issue(w http.ResponseWriter, s Session) {
	s.ExpiresAt = time.Now().Add(m.ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    m.encode(s),
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
	})
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
	})
}

// Read parses and verifies the session cookie. Tampered, malformed, or
// expired cookies yield (zero, false).
func (m *Manager) Read(r *http.Request) (Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, false
	}
	s, ok := m.decode(c.Value)
	if !ok || !s.Authenticated || time.Now().After(s.ExpiresAt) {
		return Session{}, false
	}
	return s, true
}

// Middleware places the verified session (or the zero session) in the
// request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := m.Read(r)
		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) encode(s Session) string {
	payload, _ := json.Marshal(s)
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + m.sign(body)
}

func (m *Manager) decode(value string) (Session, bool) {
	body, sig, ok := strings.Cut(value, ".")
	if !ok {
		return Session{}, false
	}
	if !hmac.Equal([]byte(m.sign(body)), []byte(sig)) {
		return Session{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Session{}, false
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, false
	}
	return s, true
}

func (m *Manager) sign(body string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
