package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/multichat/internal/config"
	"github.com/harun/multichat/internal/logger"
	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/model"
	"github.com/harun/multichat/pkg/session"
)

// newProvider builds the model provider; tests replace it with a fake
var newProvider = model.NewProvider

// loadConfig loads and validates the config selected by --config,
// applying the --log-level override
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogging installs the process logger. Console output is only
// enabled for long-running commands so that command output stays clean.
func initLogging(cfg *config.Config, console bool) (*logger.Logger, error) {
	lcfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	lg, err := logger.New(lcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return lg, nil
}

// openSessions opens the configured store and loads the session manager
func openSessions(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*session.Manager, error) {
	store, err := session.NewStore(session.StoreConfig{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Logger:  &log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	mgr, err := session.NewManager(ctx, session.ManagerConfig{Store: store, Logger: &log})
	if err != nil {
		store.Close()
		return nil, err
	}
	return mgr, nil
}

// newChatService builds the model client and the chat service on top of mgr
func newChatService(ctx context.Context, cfg *config.Config, mgr *session.Manager, publisher chat.Publisher, log zerolog.Logger) (*chat.Service, error) {
	provider, err := newProvider(ctx, cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	client, err := model.NewClient(model.ClientConfig{
		Provider: provider,
		Options:  cfg.ModelOptions(),
		Logger:   &log,
	})
	if err != nil {
		return nil, err
	}

	return chat.NewService(chat.Config{
		Sessions:  mgr,
		Model:     client,
		Publisher: publisher,
		Logger:    &log,
	})
}
