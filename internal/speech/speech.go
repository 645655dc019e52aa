// Package speech wraps the hosted speech-to-text and text-to-speech services.
package speech

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when transcription succeeds but produces no text.
var ErrNoSpeech = errors.New("could not understand audio")

// Transcriber converts raw audio bytes into a transcript. The audio format is
// assumed, not negotiated: whatever the browser recorder produced.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer renders text as spoken audio with a fixed voice and encoding.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
