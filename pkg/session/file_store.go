package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/multichat/pkg/conversation"
)

// document is the on-disk layout of a FileStore
type document struct {
	Version  int                      `json:"version"`
	SavedAt  time.Time                `json:"saved_at"`
	Sessions map[string]storedSession `json:"sessions"`
}

type storedSession struct {
	Name      string              `json:"name"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Turns     []conversation.Turn `json:"turns"`
}

// FileStore keeps the session mapping in a single versioned JSON file.
// Saves replace the whole file through a temporary file and rename.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// FileStoreOption configures a FileStore
type FileStoreOption func(*FileStore)

// WithLogger sets the logger used for load warnings
func WithLogger(logger zerolog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger.With().Str("component", "session-store").Logger()
	}
}

// NewFileStore creates a file store at path, creating its directory
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{path: path}
	WithLogger(log.Logger)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the store file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the store file
func (s *FileStore) Load(ctx context.Context) (map[string]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Session), nil
		}
		return nil, fmt.Errorf("failed to read session store: %w", err)
	}

	return decodeDocument(data, s.logger)
}

// Save writes the full mapping to disk
func (s *FileStore) Save(ctx context.Context, sessions map[string]Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeDocument(sessions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeFileAtomic(s.path, data)
}

// Close is a no-op for file stores
func (s *FileStore) Close() error {
	return nil
}

func encodeDocument(sessions map[string]Session) ([]byte, error) {
	doc := document{
		Version:  FormatVersion,
		SavedAt:  time.Now().UTC(),
		Sessions: make(map[string]storedSession, len(sessions)),
	}
	for name, sess := range sessions {
		turns := sess.Turns()
		if turns == nil {
			turns = []conversation.Turn{}
		}
		doc.Sessions[name] = storedSession{
			Name:      name,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Turns:     turns,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session store: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte, logger zerolog.Logger) (map[string]Session, error) {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	sessions := make(map[string]Session, len(doc.Sessions))
	for key, stored := range doc.Sessions {
		if stored.Name != key {
			logger.Warn().Str("key", key).Str("name", stored.Name).Msg("Session name does not match its key, using key")
		}
		for i, turn := range stored.Turns {
			if err := turn.Validate(); err != nil {
				return nil, fmt.Errorf("%w: session %q turn %d: %v", ErrCorruptStore, key, i, err)
			}
		}
		sessions[key] = Session{
			Name:      key,
			CreatedAt: stored.CreatedAt,
			UpdatedAt: stored.UpdatedAt,
			History:   conversation.New(stored.Turns...),
		}
	}

	return sessions, nil
}

// writeFileAtomic writes data to path.tmp, syncs it, then renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp store file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session store: %w", err)
	}

	return nil
}
