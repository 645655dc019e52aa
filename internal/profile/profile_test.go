package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alfred-chat/internal/store"
)

type memRepo struct {
	users   map[string]*store.User
	upserts int
}

func newMemRepo() *memRepo { return &memRepo{users: make(map[string]*store.User)} }

func (m *memRepo) GetUser(_ context.Context, username string) (*store.User, error) {
	return m.users[username], nil
}

func (m *memRepo) UpsertUser(_ context.Context, user *store.User) error {
	m.upserts++
	m.users[user.Username] = user
	return nil
}

func (m *memRepo) UpdateProfile(_ context.Context, username string, p store.Profile) error {
	u := m.users[username]
	u.AgentPersona = p.AgentPersona
	u.AgentGoal = p.AgentGoal
	u.SpecialInstructions = p.SpecialInstructions
	u.UserDisplayName = p.UserDisplayName
	return nil
}

func (m *memRepo) ListUsers(context.Context) ([]*store.User, error)           { return nil, nil }
func (m *memRepo) AppendMessage(context.Context, *store.Message) error        { return nil }
func (m *memRepo) RecentMessages(context.Context, string, int) ([]*store.Message, error) {
	return nil, nil
}
func (m *memRepo) OldestMessages(context.Context, string, int) ([]*store.Message, error) {
	return nil, nil
}
func (m *memRepo) DeleteMessages(context.Context, []string) error { return nil }
func (m *memRepo) Ping(context.Context) error                     { return nil }
func (m *memRepo) Close() error                                   { return nil }

func TestGetOrCreateHealsMissingDocument(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, zap.NewNop())

	got, err := svc.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, Defaults("alice"), got)
	assert.Equal(t, 1, repo.upserts, "missing document is written once")

	// A second read returns the same values without another write.
	again, err := svc.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, repo.upserts)
}

func TestGetOrCreateReturnsStoredProfile(t *testing.T) {
	repo := newMemRepo()
	repo.users["bob"] = &store.User{
		Username:            "bob",
		AgentPersona:        "You are a librarian.",
		AgentGoal:           "Recommend books.",
		SpecialInstructions: "Prefer fiction.",
		UserDisplayName:     "Robert",
	}
	svc := New(repo, zap.NewNop())

	got, err := svc.GetOrCreate(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "You are a librarian.", got.AgentPersona)
	assert.Equal(t, "Robert", got.UserDisplayName)
	assert.Equal(t, 0, repo.upserts)
}

func TestUpdate(t *testing.T) {
	repo := newMemRepo()
	repo.users["alice"] = &store.User{Username: "alice"}
	svc := New(repo, zap.NewNop())

	p := store.Profile{AgentPersona: "New persona.", UserDisplayName: "Alice"}
	require.NoError(t, svc.Update(context.Background(), "alice", p))
	assert.Equal(t, "New persona.", repo.users["alice"].AgentPersona)
}

func TestFillDefaults(t *testing.T) {
	p := FillDefaults(store.Profile{AgentPersona: "Custom."}, "alice")
	assert.Equal(t, "Custom.", p.AgentPersona)
	assert.Equal(t, DefaultGoal, p.AgentGoal)
	assert.Equal(t, "alice", p.UserDisplayName)
	assert.Empty(t, p.SpecialInstructions)
}
