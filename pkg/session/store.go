package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FormatVersion is the version written by every store backend
const FormatVersion = 1

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported session store version")
	ErrCorruptStore       = errors.New("corrupt session store")
)

// Store loads and saves the complete session mapping
type Store interface {
	// Load returns every stored session. A store that does not exist yet
	// yields an empty mapping.
	Load(ctx context.Context) (map[string]Session, error)
	// Save replaces the stored mapping with sessions.
	Save(ctx context.Context, sessions map[string]Session) error
	Close() error
}

// StoreConfig selects and configures a store backend
type StoreConfig struct {
	Backend string
	Path    string
	Logger  *zerolog.Logger
}

// DefaultStorePath returns ~/.multichat/sessions.json
func DefaultStorePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".multichat", "sessions.json"), nil
}

// NewStore creates the store backend named by cfg.Backend
func NewStore(cfg StoreConfig) (Store, error) {
	path := cfg.Path
	if path == "" {
		p, err := DefaultStorePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	switch cfg.Backend {
	case "", BackendJSON:
		var opts []FileStoreOption
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(*cfg.Logger))
		}
		return NewFileStore(path, opts...)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
