package storage

import "time"

// Event represents one processed conversational turn, text or voice.
// It is intentionally simple to allow future DB implementations.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp        time.Time `json:"timestamp"`
	Username         string    `json:"username"`
	Mode             string    `json:"mode"` // "text" or "voice"
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// Implementations can be file-based, database, etc.
// LoadInteractions should return events in chronological order.
// AppendInteraction should atomically append a new event.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
