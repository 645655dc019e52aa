// Package chat implements the conversational turn pipeline: prompt assembly,
// model invocation, persistence, and the voice extension.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"alfred-chat/internal/llm"
	"alfred-chat/internal/profile"
	"alfred-chat/internal/speech"
	"alfred-chat/internal/storage"
	"alfred-chat/internal/store"
)

// Stage-level errors. The route layer maps these to status codes and the
// voice handler to stage-specific messages.
var (
	ErrModelUnavailable = errors.New("AI service failed")
	ErrTranscription    = errors.New("speech-to-text failed")
	ErrSynthesis        = errors.New("text-to-speech failed")
)

// Recorder is the subset of storage.Recorder the pipeline needs.
type Recorder interface {
	AppendInteraction(event storage.Event) error
}

// Options bound the conversation context and the history deletion batches.
type Options struct {
	// ContextWindow is the number of most-recent persisted turns included
	// in each model call. It bounds context size and cost; older turns stay
	// in storage but are not seen by the model.
	ContextWindow int
	// DeleteBatchSize bounds each fetch-and-delete round of ClearHistory.
	DeleteBatchSize int
}

// VoiceResult carries all three outputs of a completed voice turn.
type VoiceResult struct {
	Transcript   string
	ResponseText string
	Audio        []byte
}

type Pipeline struct {
	model    llm.Client
	repo     store.Repository
	profiles *profile.Service
	stt      speech.Transcriber
	tts      speech.Synthesizer
	recorder Recorder
	logger   *zap.Logger
	opts     Options
}

func NewPipeline(
	model llm.Client,
	repo store.Repository,
	profiles *profile.Service,
	stt speech.Transcriber,
	tts speech.Synthesizer,
	recorder Recorder,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	return &Pipeline{
		model:    model,
		repo:     repo,
		profiles: profiles,
		stt:      stt,
		tts:      tts,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
	}
}

// Respond runs one text turn: profile get-or-create, windowed history read,
// single synchronous model call, persistence of the new turn.
//
// Persistence failure after a successful model call loses the generated
// text; a client retry after that produces a second model call and a
// duplicate turn. There is no compensating rollback.
func (p *Pipeline) Respond(ctx context.Context, username, message string) (string, error) {
	prof, err := p.profiles.GetOrCreate(ctx, username)
	if err != nil {
		return "", err
	}
	history, err := p.repo.RecentMessages(ctx, username, p.opts.ContextWindow)
	if err != nil {
		return "", fmt.Errorf("read history: %w", err)
	}

	resp, err := p.model.Generate(ctx, SystemInstruction(prof, username), buildTurns(history, message))
	if err != nil {
		p.record(username, "text", llm.Response{}, err)
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if err := p.repo.AppendMessage(ctx, &store.Message{
		Username:    username,
		UserMessage: message,
		AIResponse:  resp.Content,
	}); err != nil {
		return "", fmt.Errorf("persist turn: %w", err)
	}

	p.record(username, "text", resp, nil)
	p.logger.Info("chat message processed",
		zap.String("username", username),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
		zap.Int("total_tokens", resp.TotalTokens))
	return resp.Content, nil
}

// VoiceRespond runs the staged voice turn: transcription, a model call with
// the transcript as the sole turn (prior history is not included on this
// path), persistence, then synthesis. Each stage short-circuits on failure;
// partial results from completed stages are discarded, though a turn
// persisted before a synthesis failure remains in storage.
func (p *Pipeline) VoiceRespond(ctx context.Context, username string, audio []byte, filename string) (*VoiceResult, error) {
	transcript, err := p.stt.Transcribe(ctx, audio, filename)
	if err != nil {
		if errors.Is(err, speech.ErrNoSpeech) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	p.logger.Info("audio transcribed", zap.String("username", username))

	prof, err := p.profiles.GetOrCreate(ctx, username)
	if err != nil {
		return nil, err
	}
	turns := []llm.Message{{Role: llm.RoleUser, Content: transcript}}
	resp, err := p.model.Generate(ctx, SystemInstruction(prof, username), turns)
	if err != nil {
		p.record(username, "voice", llm.Response{}, err)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if err := p.repo.AppendMessage(ctx, &store.Message{
		Username:    username,
		UserMessage: transcript,
		AIResponse:  resp.Content,
	}); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	audioOut, err := p.tts.Synthesize(ctx, resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	p.record(username, "voice", resp, nil)
	return &VoiceResult{
		Transcript:   transcript,
		ResponseText: resp.Content,
		Audio:        audioOut,
	}, nil
}

// History returns up to n most-recent turns in chronological order.
func (p *Pipeline) History(ctx context.Context, username string, n int) ([]*store.Message, error) {
	recent, err := p.repo.RecentMessages(ctx, username, n)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// ClearHistory deletes all of the user's turns in fixed-size batches:
// fetch up to the batch size of oldest turns, delete them as one statement,
// stop when a fetch comes back short. A crash mid-loop leaves a partially
// cleared history.
func (p *Pipeline) ClearHistory(ctx context.Context, username string) (int, error) {
	deleted := 0
	for {
		batch, err := p.repo.OldestMessages(ctx, username, p.opts.DeleteBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("fetch batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		if err := p.repo.DeleteMessages(ctx, ids); err != nil {
			return deleted, fmt.Errorf("delete batch: %w", err)
		}
		deleted += len(batch)
		if len(batch) < p.opts.DeleteBatchSize {
			break
		}
	}
	p.logger.Info("history cleared", zap.String("username", username), zap.Int("deleted_count", deleted))
	return deleted, nil
}

// record appends an interaction event. Best effort: recording never fails
// the request.
func (p *Pipeline) record(username, mode string, resp llm.Response, cause error) {
	if p.recorder == nil {
		return
	}
	ev := storage.Event{
		Timestamp:        time.Now(),
		Username:         username,
		Mode:             mode,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := p.recorder.AppendInteraction(ev); err != nil {
		p.logger.Warn("failed to record interaction", zap.Error(err))
	}
}
