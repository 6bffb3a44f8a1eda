package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/conversation"
)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Store  Store
	Logger *zerolog.Logger
}

// Manager holds the session mapping in memory and persists it on every mutation
type Manager struct {
	store    Store
	logger   zerolog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager loads the store once and returns a ready manager
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Manager{
		store:    cfg.Store,
		logger:   logger.With().Str("component", "session-manager").Logger(),
		sessions: make(map[string]*Session),
	}

	if err := m.load(ctx); err != nil {
		return nil, err
	}

	m.logger.Info().Int("sessions", len(m.sessions)).Msg("Session manager initialized")
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "session.load")
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	loaded, err := m.store.Load(ctx)
	if err != nil {
		return tracing.FailSpan(span, fmt.Errorf("failed to load sessions: %w", err))
	}

	for name, sess := range loaded {
		s := sess.Clone()
		m.sessions[name] = &s
	}
	observability.SetActiveSessions(len(m.sessions))
	span.SetAttributes(attribute.Int("sessions", len(m.sessions)))
	return nil
}

// persist saves the full mapping. Callers hold m.mu.
func (m *Manager) persist(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "session.save", attribute.Int("sessions", len(m.sessions)))
	defer span.End()
	start := time.Now()

	snapshot := make(map[string]Session, len(m.sessions))
	for name, sess := range m.sessions {
		snapshot[name] = *sess
	}

	err := m.store.Save(ctx, snapshot)
	observability.RecordSessionSave(time.Since(start), err == nil)
	observability.SetActiveSessions(len(m.sessions))
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Error().Err(err).Msg("Failed to save sessions")
		return tracing.FailSpan(span, fmt.Errorf("failed to save sessions: %w", err))
	}
	return nil
}

// Names returns the session names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := lo.Keys(m.sessions)
	slices.Sort(names)
	return names
}

// Exists reports whether a session with name exists
func (m *Manager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[strings.TrimSpace(name)]
	return ok
}

// Get returns a copy of the named session
func (m *Manager) Get(name string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[strings.TrimSpace(name)]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return sess.Clone(), nil
}

// Snapshot returns a deep copy of every session
func (m *Manager) Snapshot() map[string]Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.MapValues(m.sessions, func(sess *Session, _ string) Session {
		return sess.Clone()
	})
}

// Create adds an empty session and persists the mapping
func (m *Manager) Create(ctx context.Context, name string) (Session, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return Session{}, err
	}
	ctx = tracing.WithSessionName(ctx, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[name]; ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionExists, name)
	}

	sess := NewSession(name)
	m.sessions[name] = &sess

	if err := m.persist(ctx); err != nil {
		return sess.Clone(), err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().Msg("Session created")
	return sess.Clone(), nil
}

// Append validates and appends turns to the named session, then persists.
// Turns are appended all together or not at all.
func (m *Manager) Append(ctx context.Context, name string, turns ...conversation.Turn) error {
	name = strings.TrimSpace(name)
	ctx = tracing.WithSessionName(ctx, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	if sess.History == nil {
		sess.History = conversation.New()
	}

	if err := sess.History.Append(turns...); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now().UTC()
	observability.ObserveSessionTurns(sess.History.Len())

	if err := m.persist(ctx); err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Int("appended", len(turns)).
		Int("turns", sess.History.Len()).
		Msg("Turns appended")
	return nil
}

// Clear empties the named session's history but keeps the session
func (m *Manager) Clear(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	ctx = tracing.WithSessionName(ctx, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}

	sess.History = conversation.New()
	sess.UpdatedAt = time.Now().UTC()

	if err := m.persist(ctx); err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().Msg("Session cleared")
	return nil
}

// Delete removes the named session and persists the mapping
func (m *Manager) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	ctx = tracing.WithSessionName(ctx, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	delete(m.sessions, name)

	if err := m.persist(ctx); err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().Msg("Session deleted")
	return nil
}

// Close closes the underlying store
func (m *Manager) Close() error {
	return m.store.Close()
}
