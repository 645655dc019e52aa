package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"alfred-chat/internal/auth"
	"alfred-chat/internal/chat"
	"alfred-chat/internal/session"
	"alfred-chat/internal/speech"
	"alfred-chat/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["Flash"]; !ok {
		if f, found := popFlash(w, r); found {
			data["Flash"] = f
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render template", zap.String("template", name), zap.Error(err))
	}
}

// --- Page handlers ---

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).Authenticated {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	s.render(w, r, "landing.html", nil)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).Authenticated {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	s.render(w, r, "login.html", nil)
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).Authenticated {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	if err := s.auth.Verify(r.Context(), username, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("credential lookup failed", zap.String("username", username), zap.Error(err))
		} else {
			s.logger.Warn("failed login attempt", zap.String("username", username))
		}
		// One generic message for every failure so usernames cannot be probed.
		s.render(w, r, "login.html", map[string]any{"Error": "Invalid username or password."})
		return
	}

	s.sessions.Issue(w, session.Session{
		Authenticated: true,
		Username:      username,
		IsAdmin:       s.auth.IsAdmin(username),
	})
	s.logger.Info("user logged in", zap.String("username", username))
	setFlash(w, "success", "Logged in successfully!")
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	s.sessions.Clear(w)
	if sess.Authenticated {
		s.logger.Info("user logged out", zap.String("username", sess.Username))
	}
	setFlash(w, "info", "You have been logged out.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type historyEntry struct {
	UserMessage string
	AIResponse  string
	Timestamp   string
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	data := map[string]any{"Username": sess.Username}

	turns, err := s.pipeline.History(r.Context(), sess.Username, historyPageSize)
	if err != nil {
		s.logger.Error("failed to load chat history", zap.String("username", sess.Username), zap.Error(err))
		data["Flash"] = Flash{Category: "danger", Message: "Error loading chat history."}
	}
	entries := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, historyEntry{
			UserMessage: t.UserMessage,
			AIResponse:  t.AIResponse,
			Timestamp:   t.CreatedAt.In(s.loc).Format(displayTimeFormat),
		})
	}
	data["History"] = entries
	s.render(w, r, "chat.html", data)
}

func (s *Server) handleAudioChatPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	s.render(w, r, "audiochat.html", map[string]any{"Username": sess.Username})
}

func (s *Server) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	prof, err := s.profiles.GetOrCreate(r.Context(), sess.Username)
	if err != nil {
		s.logger.Error("failed to load profile", zap.String("username", sess.Username), zap.Error(err))
		setFlash(w, "danger", "Failed to load settings.")
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	s.render(w, r, "settings.html", map[string]any{"Username": sess.Username, "Profile": prof})
}

func (s *Server) handleSettingsSubmit(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	updated := store.Profile{
		AgentPersona:        strings.TrimSpace(r.FormValue("agent_persona")),
		AgentGoal:           strings.TrimSpace(r.FormValue("agent_goal")),
		SpecialInstructions: strings.TrimSpace(r.FormValue("special_instructions")),
		UserDisplayName:     strings.TrimSpace(r.FormValue("user_display_name")),
	}

	data := map[string]any{"Username": sess.Username}
	if err := s.profiles.Update(r.Context(), sess.Username, updated); err != nil {
		s.logger.Error("failed to save settings", zap.String("username", sess.Username), zap.Error(err))
		data["Flash"] = Flash{Category: "danger", Message: "Failed to save settings: " + err.Error()}
	} else {
		data["Flash"] = Flash{Category: "success", Message: "Settings saved!"}
	}

	prof, err := s.profiles.GetOrCreate(r.Context(), sess.Username)
	if err != nil {
		s.logger.Error("failed to reload profile", zap.String("username", sess.Username), zap.Error(err))
		prof = updated
	}
	data["Profile"] = prof
	s.render(w, r, "settings.html", data)
}

func (s *Server) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	s.renderAdminUsers(w, r, nil)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	username := r.FormValue("username")
	password := r.FormValue("password")

	var flash Flash
	switch {
	case username == "" || password == "":
		flash = Flash{Category: "danger", Message: "Username and password are required."}
	default:
		err := s.auth.CreateOrUpdate(r.Context(), username, password)
		switch {
		case errors.Is(err, auth.ErrNotAllowed):
			s.logger.Warn("attempted to create unauthorized user",
				zap.String("admin", sess.Username), zap.String("username", username))
			flash = Flash{Category: "danger", Message: "Error creating/updating user '" + username + "': " + err.Error()}
		case err != nil:
			s.logger.Error("failed to create user", zap.String("username", username), zap.Error(err))
			flash = Flash{Category: "danger", Message: "Error creating/updating user '" + username + "': " + err.Error()}
		default:
			s.logger.Info("user created/updated",
				zap.String("admin", sess.Username), zap.String("username", username))
			flash = Flash{Category: "success", Message: "User '" + username + "' created/updated successfully."}
		}
	}
	s.renderAdminUsers(w, r, &flash)
}

func (s *Server) renderAdminUsers(w http.ResponseWriter, r *http.Request, flash *Flash) {
	data := map[string]any{"AllowedUsernames": s.auth.AllowedUsernames()}
	if flash != nil {
		data["Flash"] = *flash
	}
	users, err := s.auth.List(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch user list", zap.Error(err))
		data["Flash"] = Flash{Category: "danger", Message: "Error fetching user list: " + err.Error()}
	}
	data["Users"] = users
	s.render(w, r, "admin_create_user.html", data)
}

// --- API handlers ---

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text, err := s.pipeline.Respond(r.Context(), sess.Username, req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", zap.String("username", sess.Username), zap.Error(err))
		if errors.Is(err, chat.ErrModelUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

func (s *Server) handleTranscribeAndChat(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	file, header, err := r.FormFile("audio_data")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file found")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio upload")
		return
	}

	result, err := s.pipeline.VoiceRespond(r.Context(), sess.Username, audio, header.Filename)
	if err != nil {
		s.logger.Error("voice turn failed", zap.String("username", sess.Username), zap.Error(err))
		switch {
		case errors.Is(err, speech.ErrNoSpeech):
			writeError(w, http.StatusBadRequest, "Could not understand audio")
		case errors.Is(err, chat.ErrModelUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_transcript":   result.Transcript,
		"ai_response_text":  result.ResponseText,
		"ai_response_audio": base64.StdEncoding.EncodeToString(result.Audio),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	deleted, err := s.pipeline.ClearHistory(r.Context(), sess.Username)
	if err != nil {
		s.logger.Error("failed to clear history", zap.String("username", sess.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db.Ping(r.Context()) == nil
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"database": dbOK,
		"model":    s.caps.Model,
		"speech":   s.caps.Speech,
	})
}
