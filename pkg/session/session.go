package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/harun/multichat/pkg/conversation"
)

const (
	// ReservedName is the UI label used to start a new session
	ReservedName = "New Session"
	// MaxNameLength is the maximum session name length in runes
	MaxNameLength = 128
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrInvalidName     = errors.New("invalid session name")
)

// Session is a named conversation
type Session struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	History   *conversation.Conversation
}

// NewSession creates an empty session
func NewSession(name string) Session {
	now := time.Now().UTC()
	return Session{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		History:   conversation.New(),
	}
}

// Turns returns the session history in chronological order
func (s Session) Turns() []conversation.Turn {
	if s.History == nil {
		return nil
	}
	return s.History.Turns()
}

// Len returns the number of turns
func (s Session) Len() int {
	if s.History == nil {
		return 0
	}
	return s.History.Len()
}

// Clone returns a deep copy of the session
func (s Session) Clone() Session {
	if s.History == nil {
		s.History = conversation.New()
		return s
	}
	s.History = s.History.Clone()
	return s
}

// NormalizeName trims and validates a session name
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if name == ReservedName {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, ReservedName)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: name cannot contain control characters", ErrInvalidName)
	}
	return name, nil
}
