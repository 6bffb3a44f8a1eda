package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/multichat/internal/config"
	"github.com/harun/multichat/internal/logger"
	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/session"
	"github.com/harun/multichat/pkg/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat web UI",
	Long: `Serve the MultiChat web UI and JSON API.
Sessions are loaded once at startup and saved after every change.
The config file is watched; log level and model options are applied live.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	lg, err := initLogging(cfg, true)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.GetZerolog().With().Str("component", "serve").Logger()

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(problem).Msg("Config check")
	}

	pidFile := getPIDFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("multichat is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidFile)

	if err := tracing.InitOpenTelemetry("multichat"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	if cfg.Audit.Enabled {
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			log.Warn().Err(err).Str("path", cfg.Audit.Path).Msg("Failed to open audit log")
		}
		defer observability.GetAuditLogger().Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := lg.GetZerolog()
	mgr, err := openSessions(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if cfg.Backup.Enabled {
		backupper, err := session.NewBackupper(mgr, session.BackupConfig{
			Dir:      cfg.Backup.Dir,
			Schedule: cfg.Backup.Schedule,
			Keep:     cfg.Backup.Keep,
		})
		if err != nil {
			return err
		}
		if err := backupper.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := backupper.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Backup did not finish before shutdown")
			}
		}()
	}

	broadcaster := web.NewEventBroadcaster(zl)
	svc, err := newChatService(ctx, cfg, mgr, broadcaster, zl)
	if err != nil {
		return err
	}

	srv, err := web.NewServer(web.Config{
		Addr:         cfg.Server.Addr,
		Chat:         svc,
		Broadcaster:  broadcaster,
		ModelTimeout: time.Duration(cfg.Server.ModelTimeoutSeconds) * time.Second,
		Logger:       &zl,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	watcher, err := startConfigWatcher(cfg, lg, svc, zl)
	if err != nil {
		log.Warn().Err(err).Msg("Config reload disabled")
	} else {
		defer watcher.Stop()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "MultiChat listening on http://%s\n", srv.Addr())
	log.Info().
		Str("addr", srv.Addr()).
		Str("provider", cfg.Model.Provider).
		Str("store", cfg.Store.Path).
		Int("sessions", len(svc.Sessions())).
		Msg("MultiChat started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
		return err
	}
	return nil
}

// startConfigWatcher applies log level and model option changes from the
// config file to the running server. Provider and store settings need a restart.
func startConfigWatcher(current *config.Config, lg *logger.Logger, svc *chat.Service, zl zerolog.Logger) (*config.Watcher, error) {
	path := config.NewLoader(cfgFile).GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	provider := current.ProviderConfig()
	store := current.Store

	w, err := config.NewWatcher(config.WatcherConfig{
		Path:   path,
		Logger: &zl,
		OnReload: func(cfg *config.Config) error {
			if logLevel == "" {
				lg.SetLevel(cfg.Logging.Level)
			}
			svc.SetModelOptions(cfg.ModelOptions())

			if cfg.ProviderConfig() != provider || cfg.Store != store {
				zl.Warn().Msg("Provider and store changes take effect after restart")
			}

			observability.RecordConfigAudit(context.Background(), "config.reload", map[string]interface{}{
				"path":      path,
				"log_level": cfg.Logging.Level,
				"model":     cfg.Model.Model,
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}
