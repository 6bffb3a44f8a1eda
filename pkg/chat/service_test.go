package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/multichat/pkg/conversation"
	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

type stubProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []model.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, request model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return &model.Response{Text: p.reply}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	svc       *Service
	provider  *stubProvider
	events    *recorder
	storePath string
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := session.NewFileStore(path)
	require.NoError(t, err)
	mgr, err := session.NewManager(ctx, session.ManagerConfig{Store: store})
	require.NoError(t, err)

	provider := &stubProvider{reply: "Hello! How can I help?"}
	client, err := model.NewClient(model.ClientConfig{Provider: provider})
	require.NoError(t, err)

	events := &recorder{}
	svc, err := NewService(Config{Sessions: mgr, Model: client, Publisher: PublisherFunc(events.record)})
	require.NoError(t, err)

	return &testEnv{svc: svc, provider: provider, events: events, storePath: path}
}

func loadFromDisk(t *testing.T, path string) map[string]session.Session {
	t.Helper()
	store, err := session.NewFileStore(path)
	require.NoError(t, err)
	sessions, err := store.Load(context.Background())
	require.NoError(t, err)
	return sessions
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestSubmitDemoScenario(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.User.Text)
	assert.Equal(t, "Hello! How can I help?", res.Assistant.Text)
	assert.Equal(t, 2, res.Turns)

	onDisk := loadFromDisk(t, env.storePath)
	require.Contains(t, onDisk, "demo")
	turns := onDisk["demo"].Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Nil(t, turns[0].Images)
	assert.Equal(t, conversation.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello! How can I help?", turns[1].Text)

	assert.Equal(t, []EventType{EventSessionCreated, EventSessionUpdated}, env.events.types())
}

func TestSubmitAppendOnlyAlternation(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	const n = 4
	for i := 0; i < n; i++ {
		_, err := env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "question"})
		require.NoError(t, err)
	}

	sess, err := env.svc.Session("demo")
	require.NoError(t, err)
	turns := sess.Turns()
	require.Len(t, turns, 2*n)
	for i, turn := range turns {
		want := conversation.RoleUser
		if i%2 == 1 {
			want = conversation.RoleAssistant
		}
		assert.Equal(t, want, turn.Role)
	}

	last := env.provider.requests[n-1]
	assert.Len(t, last.Messages, 2*(n-1)+1)
}

func TestSubmitConcurrentKeepsAlternation(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := env.svc.Session("demo")
	require.NoError(t, err)
	turns := sess.Turns()
	require.Len(t, turns, 16)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, conversation.RoleUser, turns[i].Role)
		assert.Equal(t, conversation.RoleAssistant, turns[i+1].Role)
	}
}

func TestSubmitWithImages(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	images := conversation.ImageSet{{Name: "a.png", MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}
	res, err := env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "what is this?", Images: images})
	require.NoError(t, err)
	assert.Len(t, res.User.Images, 1)
	assert.Empty(t, res.Assistant.Images)

	req := env.provider.requests[0]
	require.Len(t, req.Messages, 1)
	assert.Len(t, req.Messages[0].Images, 1)

	onDisk := loadFromDisk(t, env.storePath)
	assert.True(t, onDisk["demo"].Turns()[0].Images[0].Equal(images[0]))
}

func TestSubmitModelFailureLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "first"})
	require.NoError(t, err)

	env.provider.err = errors.New("throttled")
	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "second"})
	require.Error(t, err)

	sess, err := env.svc.Session("demo")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Len())
	assert.Equal(t, 2, loadFromDisk(t, env.storePath)["demo"].Len())
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "   "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = env.svc.Submit(ctx, SubmitParams{Session: "missing", Prompt: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hi", Images: conversation.ImageSet{{MediaType: "image/png"}}})
	assert.ErrorIs(t, err, conversation.ErrInvalidTurn)

	assert.Empty(t, env.provider.requests)
}

func TestClearAndDelete(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hi"})
	require.NoError(t, err)

	require.NoError(t, env.svc.Clear(ctx, "demo"))
	sess, err := env.svc.Session("demo")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
	assert.Contains(t, loadFromDisk(t, env.storePath), "demo")

	require.NoError(t, env.svc.Delete(ctx, "demo"))
	assert.Empty(t, env.svc.Sessions())
	assert.NotContains(t, loadFromDisk(t, env.storePath), "demo")

	assert.ErrorIs(t, env.svc.Delete(ctx, "demo"), session.ErrSessionNotFound)
	assert.ErrorIs(t, env.svc.Clear(ctx, "demo"), session.ErrSessionNotFound)

	assert.Equal(t, []EventType{
		EventSessionCreated,
		EventSessionUpdated,
		EventSessionCleared,
		EventSessionDeleted,
	}, env.events.types())
}

func TestCreateErrorsDoNotPublish(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	_, err := env.svc.Create(ctx, "New Session")
	assert.ErrorIs(t, err, session.ErrInvalidName)

	_, err = env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, "demo")
	assert.ErrorIs(t, err, session.ErrSessionExists)

	assert.Equal(t, []EventType{EventSessionCreated}, env.events.types())
}

func TestSetModelOptions(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	env.svc.SetModelOptions(model.Options{Model: "other-model", MaxTokens: 50})
	assert.Equal(t, "other-model", env.svc.ModelOptions().Model)

	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "other-model", env.provider.requests[0].Model)
}

func (s *Service) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.submitLocks)
}

func TestUnknownSessionsLeaveNoLocks(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("ghost-%d", i)
		_, err := env.svc.Submit(ctx, SubmitParams{Session: name, Prompt: "hi"})
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
		assert.ErrorIs(t, env.svc.Clear(ctx, name), session.ErrSessionNotFound)
		assert.ErrorIs(t, env.svc.Delete(ctx, name), session.ErrSessionNotFound)
	}
	assert.Equal(t, 0, env.svc.lockCount())

	_, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, SubmitParams{Session: "demo", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, env.svc.lockCount())

	require.NoError(t, env.svc.Delete(ctx, "demo"))
	assert.Equal(t, 0, env.svc.lockCount())
	assert.Empty(t, env.provider.requests[1:])
}
