package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alfred-chat/internal/llm"
	"alfred-chat/internal/profile"
	"alfred-chat/internal/speech"
	"alfred-chat/internal/storage"
	"alfred-chat/internal/store"
)

type memRepo struct {
	users      map[string]*store.User
	messages   []*store.Message
	failAppend bool
	deletes    int
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*store.User)}
}

func (m *memRepo) GetUser(_ context.Context, username string) (*store.User, error) {
	return m.users[username], nil
}

func (m *memRepo) UpsertUser(_ context.Context, user *store.User) error {
	m.users[user.Username] = user
	return nil
}

func (m *memRepo) UpdateProfile(_ context.Context, username string, p store.Profile) error {
	u, ok := m.users[username]
	if !ok {
		return fmt.Errorf("no user document for %q", username)
	}
	u.AgentPersona = p.AgentPersona
	u.AgentGoal = p.AgentGoal
	u.SpecialInstructions = p.SpecialInstructions
	u.UserDisplayName = p.UserDisplayName
	return nil
}

func (m *memRepo) ListUsers(_ context.Context) ([]*store.User, error) {
	out := make([]*store.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memRepo) AppendMessage(_ context.Context, msg *store.Message) error {
	if m.failAppend {
		return errors.New("write failed")
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", len(m.messages))
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memRepo) forUser(username string) []*store.Message {
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.Username == username {
			out = append(out, msg)
		}
	}
	return out
}

func (m *memRepo) RecentMessages(_ context.Context, username string, n int) ([]*store.Message, error) {
	msgs := m.forUser(username)
	var out []*store.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (m *memRepo) OldestMessages(_ context.Context, username string, n int) ([]*store.Message, error) {
	msgs := m.forUser(username)
	if len(msgs) > n {
		msgs = msgs[:n]
	}
	return msgs, nil
}

func (m *memRepo) DeleteMessages(_ context.Context, ids []string) error {
	m.deletes++
	keep := m.messages[:0]
	for _, msg := range m.messages {
		found := false
		for _, id := range ids {
			if msg.ID == id {
				found = true
				break
			}
		}
		if !found {
			keep = append(keep, msg)
		}
	}
	m.messages = keep
	return nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

type fakeModel struct {
	lastInstruction string
	lastTurns       []llm.Message
	reply           string
	err             error
}

func (f *fakeModel) Generate(_ context.Context, systemInstruction string, turns []llm.Message) (llm.Response, error) {
	f.lastInstruction = systemInstruction
	f.lastTurns = turns
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply, Model: "fake-model", TotalTokens: 42}, nil
}

type fakeSpeech struct {
	transcript string
	sttErr     error
	audio      []byte
	ttsErr     error
}

func (f *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, f.sttErr
}

func (f *fakeSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, f.ttsErr
}

type memRecorder struct{ events []storage.Event }

func (r *memRecorder) AppendInteraction(ev storage.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func testProfiles(repo *memRepo) *profile.Service {
	return profile.New(repo, zap.NewNop())
}

func newTestPipeline(repo *memRepo, model llm.Client, sp *fakeSpeech, rec Recorder) *Pipeline {
	return NewPipeline(model, repo, testProfiles(repo), sp, sp, rec, zap.NewNop(), Options{
		ContextWindow:   10,
		DeleteBatchSize: 3,
	})
}

func TestRespondPersistsExactlyOneTurn(t *testing.T) {
	repo := newMemRepo()
	repo.messages = []*store.Message{
		{ID: "a", Username: "alice", UserMessage: "q1", AIResponse: "a1", CreatedAt: time.Unix(1, 0)},
		{ID: "b", Username: "alice", UserMessage: "q2", AIResponse: "a2", CreatedAt: time.Unix(2, 0)},
	}
	model := &fakeModel{reply: "hello alice"}
	rec := &memRecorder{}
	p := newTestPipeline(repo, model, &fakeSpeech{}, rec)

	got, err := p.Respond(context.Background(), "alice", "q3")
	require.NoError(t, err)
	assert.Equal(t, "hello alice", got)

	// Context: two stored turns flattened chronologically plus the new message.
	require.Len(t, model.lastTurns, 5)
	assert.Equal(t, "q1", model.lastTurns[0].Content)
	assert.Equal(t, "q3", model.lastTurns[4].Content)
	assert.Contains(t, model.lastInstruction, "Your name is Alfred.")
	assert.Contains(t, model.lastInstruction, "named alice")

	msgs := repo.forUser("alice")
	require.Len(t, msgs, 3)
	assert.Equal(t, "q3", msgs[2].UserMessage)
	assert.Equal(t, "hello alice", msgs[2].AIResponse)
	assert.False(t, msgs[2].CreatedAt.IsZero())

	require.Len(t, rec.events, 1)
	assert.Equal(t, "text", rec.events[0].Mode)
	assert.Equal(t, 42, rec.events[0].TotalTokens)
}

func TestRespondSelfHealsMissingProfile(t *testing.T) {
	repo := newMemRepo()
	model := &fakeModel{reply: "hi"}
	p := newTestPipeline(repo, model, &fakeSpeech{}, nil)

	_, err := p.Respond(context.Background(), "alice", "Hi")
	require.NoError(t, err)

	require.NotNil(t, repo.users["alice"], "default profile document should be written")
	assert.Contains(t, model.lastInstruction, "You are a helpful and friendly AI assistant.")
	require.Len(t, model.lastTurns, 1)
}

func TestRespondModelFailure(t *testing.T) {
	repo := newMemRepo()
	model := &fakeModel{err: errors.New("quota exceeded")}
	rec := &memRecorder{}
	p := newTestPipeline(repo, model, &fakeSpeech{}, rec)

	_, err := p.Respond(context.Background(), "alice", "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Empty(t, repo.forUser("alice"), "no turn persisted on model failure")

	require.Len(t, rec.events, 1)
	assert.NotEmpty(t, rec.events[0].Error)
}

func TestRespondPersistenceFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failAppend = true
	p := newTestPipeline(repo, &fakeModel{reply: "lost"}, &fakeSpeech{}, nil)

	_, err := p.Respond(context.Background(), "alice", "Hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
}

func TestVoiceRespondUsesTranscriptOnly(t *testing.T) {
	repo := newMemRepo()
	repo.messages = []*store.Message{
		{ID: "a", Username: "alice", UserMessage: "old", AIResponse: "old answer", CreatedAt: time.Unix(1, 0)},
	}
	model := &fakeModel{reply: "spoken answer"}
	sp := &fakeSpeech{transcript: "what time is it", audio: []byte("mp3-bytes")}
	p := newTestPipeline(repo, model, sp, nil)

	res, err := p.VoiceRespond(context.Background(), "alice", []byte("audio"), "rec.webm")
	require.NoError(t, err)
	assert.Equal(t, "what time is it", res.Transcript)
	assert.Equal(t, "spoken answer", res.ResponseText)
	assert.Equal(t, []byte("mp3-bytes"), res.Audio)

	// The voice path does not include prior history in the model call.
	require.Len(t, model.lastTurns, 1)
	assert.Equal(t, "what time is it", model.lastTurns[0].Content)

	msgs := repo.forUser("alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, "what time is it", msgs[1].UserMessage)
}

func TestVoiceRespondStageErrors(t *testing.T) {
	repo := newMemRepo()

	p := newTestPipeline(repo, &fakeModel{}, &fakeSpeech{sttErr: errors.New("bad encoding")}, nil)
	_, err := p.VoiceRespond(context.Background(), "alice", nil, "")
	assert.ErrorIs(t, err, ErrTranscription)

	p = newTestPipeline(repo, &fakeModel{}, &fakeSpeech{sttErr: speech.ErrNoSpeech}, nil)
	_, err = p.VoiceRespond(context.Background(), "alice", nil, "")
	assert.ErrorIs(t, err, speech.ErrNoSpeech)

	p = newTestPipeline(repo, &fakeModel{err: errors.New("down")}, &fakeSpeech{transcript: "hi"}, nil)
	_, err = p.VoiceRespond(context.Background(), "alice", nil, "")
	assert.ErrorIs(t, err, ErrModelUnavailable)

	// Synthesis failure discards the audio but the turn is already persisted.
	p = newTestPipeline(repo, &fakeModel{reply: "answer"},
		&fakeSpeech{transcript: "hi", ttsErr: errors.New("voice down")}, nil)
	_, err = p.VoiceRespond(context.Background(), "alice", nil, "")
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.Len(t, repo.forUser("alice"), 1)
}

func TestClearHistoryBatches(t *testing.T) {
	repo := newMemRepo()
	for i := 0; i < 7; i++ {
		repo.messages = append(repo.messages, &store.Message{
			ID: fmt.Sprintf("m%d", i), Username: "alice",
			UserMessage: "q", AIResponse: "a", CreatedAt: time.Unix(int64(i), 0),
		})
	}
	p := newTestPipeline(repo, &fakeModel{}, &fakeSpeech{}, nil)

	deleted, err := p.ClearHistory(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
	assert.Empty(t, repo.forUser("alice"))
	// 7 turns at batch size 3: two full batches and one short final batch.
	assert.Equal(t, 3, repo.deletes)
}

func TestClearHistoryEmpty(t *testing.T) {
	repo := newMemRepo()
	p := newTestPipeline(repo, &fakeModel{}, &fakeSpeech{}, nil)

	deleted, err := p.ClearHistory(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, repo.deletes)
}

func TestHistoryChronologicalOrder(t *testing.T) {
	repo := newMemRepo()
	for i := 0; i < 15; i++ {
		repo.messages = append(repo.messages, &store.Message{
			ID: fmt.Sprintf("m%d", i), Username: "alice",
			UserMessage: fmt.Sprintf("q%d", i), AIResponse: "a",
			CreatedAt: time.Unix(int64(i), 0),
		})
	}
	p := newTestPipeline(repo, &fakeModel{}, &fakeSpeech{}, nil)

	turns, err := p.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, turns, 10)
	// The five oldest turns never appear; the rest are in ascending order.
	assert.Equal(t, "q5", turns[0].UserMessage)
	assert.Equal(t, "q14", turns[9].UserMessage)
	for i := 1; i < len(turns); i++ {
		assert.False(t, turns[i].CreatedAt.Before(turns[i-1].CreatedAt))
	}
}
