package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultBackupSchedule = "0 * * * *"
	DefaultBackupKeep     = 24

	backupPrefix     = "sessions-"
	backupSuffix     = ".json"
	backupTimeLayout = "20060102T150405.000Z"
)

// BackupConfig configures scheduled snapshots of the session mapping
type BackupConfig struct {
	Dir      string
	Schedule string // five-field cron expression
	Keep     int
}

// Backupper writes timestamped JSON snapshots of a Manager on a cron schedule
// and prunes old ones
type Backupper struct {
	manager *Manager
	dir     string
	keep    int
	sched   cron.Schedule
	expr    string
	logger  zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewBackupper validates cfg and creates a stopped Backupper
func NewBackupper(manager *Manager, cfg BackupConfig) (*Backupper, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultBackupSchedule
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultBackupKeep
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule: %w", err)
	}

	return &Backupper{
		manager: manager,
		dir:     cfg.Dir,
		keep:    cfg.Keep,
		sched:   sched,
		expr:    cfg.Schedule,
		logger:  manager.logger.With().Str("component", "session-backup").Logger(),
	}, nil
}

// Start begins running backups on schedule
func (b *Backupper) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("backupper is already running")
	}

	b.cron = cron.New()
	b.cron.Schedule(b.sched, cron.FuncJob(func() {
		if _, err := b.RunOnce(context.Background()); err != nil {
			b.logger.Error().Err(err).Msg("Failed to back up sessions")
		}
	}))
	b.cron.Start()
	b.running = true

	b.logger.Info().
		Str("dir", b.dir).
		Str("schedule", b.expr).
		Int("keep", b.keep).
		Msg("Session backups started")

	return nil
}

// Stop stops the schedule and waits for a running backup to finish
func (b *Backupper) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("backupper is not running")
	}
	done := b.cron.Stop()
	b.running = false
	b.mu.Unlock()

	select {
	case <-done.Done():
		b.logger.Info().Msg("Session backups stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce writes one snapshot and prunes old ones. It returns the snapshot path.
func (b *Backupper) RunOnce(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + time.Now().UTC().Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(b.dir, name)

	store, err := NewFileStore(path, WithLogger(b.logger))
	if err != nil {
		return "", err
	}
	if err := store.Save(ctx, b.manager.Snapshot()); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	removed, err := b.prune()
	if err != nil {
		return path, err
	}

	b.logger.Debug().Str("path", path).Int("pruned", removed).Msg("Session backup written")
	return path, nil
}

// Backups lists snapshot paths, oldest first
func (b *Backupper) Backups() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(b.dir, name)
	}
	return paths, nil
}

func (b *Backupper) prune() (int, error) {
	paths, err := b.Backups()
	if err != nil {
		return 0, err
	}
	if len(paths) <= b.keep {
		return 0, nil
	}

	removed := 0
	for _, path := range paths[:len(paths)-b.keep] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove old backup: %w", err)
		}
		removed++
	}
	return removed, nil
}
