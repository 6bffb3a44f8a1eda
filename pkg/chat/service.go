package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/conversation"
	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

// ErrEmptyPrompt is returned when a submit carries no prompt text
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Config holds service configuration
type Config struct {
	Sessions  *session.Manager
	Model     *model.Client
	Publisher Publisher
	Logger    *zerolog.Logger
}

// SubmitParams contains the input of one chat turn
type SubmitParams struct {
	Session string
	Prompt  string
	Images  conversation.ImageSet
}

// SubmitResult contains the two turns appended by a submit
type SubmitResult struct {
	Session   string            `json:"session"`
	User      conversation.Turn `json:"user"`
	Assistant conversation.Turn `json:"assistant"`
	Turns     int               `json:"turns"`
}

// Service is the explicit chat context used by the presentation layer
type Service struct {
	sessions  *session.Manager
	model     *model.Client
	publisher Publisher
	logger    zerolog.Logger

	submitLocks map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// NewService creates a chat service
func NewService(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("model client is required")
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Service{
		sessions:    cfg.Sessions,
		model:       cfg.Model,
		publisher:   publisher,
		logger:      logger.With().Str("component", "chat").Logger(),
		submitLocks: make(map[string]*sync.Mutex),
	}, nil
}

// lockSession acquires the submit lock of an existing session.
// Unknown sessions get no lock entry.
func (s *Service) lockSession(name string) (*sync.Mutex, error) {
	if !s.sessions.Exists(name) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, name)
	}
	lock := s.getSubmitLock(name)
	lock.Lock()
	return lock, nil
}

// getSubmitLock gets or creates the submit lock for a session
func (s *Service) getSubmitLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.submitLocks[name]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.submitLocks[name] = lock
	return lock
}

// releaseSubmitLock forgets the submit lock of a deleted or unknown session
func (s *Service) releaseSubmitLock(name string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.submitLocks, name)
}

// Sessions returns the session names in sorted order
func (s *Service) Sessions() []string {
	return s.sessions.Names()
}

// Session returns a copy of the named session
func (s *Service) Session(name string) (session.Session, error) {
	return s.sessions.Get(name)
}

// Create creates an empty session
func (s *Service) Create(ctx context.Context, name string) (session.Session, error) {
	sess, err := s.sessions.Create(ctx, name)
	if errors.Is(err, session.ErrInvalidName) || errors.Is(err, session.ErrSessionExists) {
		return session.Session{}, err
	}

	observability.RecordSessionAudit(ctx, "session.create", sess.Name, err)
	if sess.Name != "" {
		// The session exists in memory even when the save failed.
		s.publisher.Publish(tracing.Detach(ctx), Event{Type: EventSessionCreated, Session: sess.Name})
	}
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// Clear empties a session's history
func (s *Service) Clear(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	lock, err := s.lockSession(name)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	err = s.sessions.Clear(ctx, name)
	if errors.Is(err, session.ErrSessionNotFound) {
		s.releaseSubmitLock(name)
		return err
	}

	observability.RecordSessionAudit(ctx, "session.clear", name, err)
	s.publisher.Publish(tracing.Detach(ctx), Event{Type: EventSessionCleared, Session: name})
	return err
}

// Delete removes a session
func (s *Service) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	lock, err := s.lockSession(name)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	err = s.sessions.Delete(ctx, name)
	s.releaseSubmitLock(name)
	if errors.Is(err, session.ErrSessionNotFound) {
		return err
	}

	observability.RecordSessionAudit(ctx, "session.delete", name, err)
	s.publisher.Publish(tracing.Detach(ctx), Event{Type: EventSessionDeleted, Session: name})
	return err
}

// Submit sends a prompt with optional images to the model and, once it replied,
// appends the user and assistant turns to the session.
// On any failure before the append the session is left unchanged.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (SubmitResult, error) {
	name := strings.TrimSpace(params.Session)
	ctx = tracing.WithSessionName(ctx, name)
	ctx, span := tracing.StartSpan(
		ctx,
		"chat.submit",
		attribute.Int("images", len(params.Images)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if strings.TrimSpace(params.Prompt) == "" {
		return SubmitResult{}, tracing.FailSpan(span, ErrEmptyPrompt)
	}

	userTurn := conversation.NewUserTurn(params.Prompt, params.Images...)
	if err := userTurn.Validate(); err != nil {
		return SubmitResult{}, tracing.FailSpan(span, err)
	}

	lock, err := s.lockSession(name)
	if err != nil {
		return SubmitResult{}, tracing.FailSpan(span, err)
	}
	defer lock.Unlock()

	sess, err := s.sessions.Get(name)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.releaseSubmitLock(name)
		}
		return SubmitResult{}, tracing.FailSpan(span, err)
	}
	history := sess.Turns()

	logger.Debug().
		Int("history", len(history)).
		Int("images", len(params.Images)).
		Msg("Submitting prompt")

	reply, err := s.model.Respond(ctx, params.Prompt, history, userTurn.Images)
	if err != nil {
		return SubmitResult{}, tracing.FailSpan(span, err)
	}

	assistantTurn := conversation.NewAssistantTurn(reply)
	result := SubmitResult{
		Session:   name,
		User:      userTurn,
		Assistant: assistantTurn,
		Turns:     len(history) + 2,
	}

	err = s.sessions.Append(ctx, name, userTurn, assistantTurn)
	if errors.Is(err, conversation.ErrInvalidTurn) || errors.Is(err, session.ErrSessionNotFound) {
		return SubmitResult{}, tracing.FailSpan(span, err)
	}

	// A failed save still leaves both turns in memory.
	s.publisher.Publish(tracing.Detach(ctx), Event{Type: EventSessionUpdated, Session: name, Turns: result.Turns})
	if err != nil {
		return result, tracing.FailSpan(span, err)
	}

	logger.Info().Int("turns", result.Turns).Msg("Turn completed")
	return result, nil
}

// SetModelOptions replaces the model request options
func (s *Service) SetModelOptions(opts model.Options) {
	s.model.SetOptions(opts)
}

// ModelOptions returns the current model request options
func (s *Service) ModelOptions() model.Options {
	return s.model.Options()
}
