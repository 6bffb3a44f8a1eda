package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/multichat/internal/config"
	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage stored chat sessions",
	Long: `List, show, create, clear and delete chat sessions in the configured store.
Changes made while a server is running may be overwritten by the server.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, mgr *session.Manager) error {
			out := cmd.OutOrStdout()
			names := mgr.Names()
			if len(names) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTURNS\tUPDATED")
			for _, name := range names {
				sess, err := mgr.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", sess.Name, sess.Len(), sess.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, mgr *session.Manager) error {
			sess, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), sess)
			return nil
		})
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, mgr *session.Manager) error {
			sess, err := mgr.Create(ctx, args[0])
			if errors.Is(err, session.ErrInvalidName) || errors.Is(err, session.ErrSessionExists) {
				return err
			}
			observability.RecordSessionAudit(ctx, "session.create", sess.Name, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %q\n", sess.Name)
			return nil
		})
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear NAME",
	Short: "Remove every turn from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, mgr *session.Manager) error {
			name := strings.TrimSpace(args[0])
			err := mgr.Clear(ctx, name)
			if errors.Is(err, session.ErrSessionNotFound) {
				return err
			}
			observability.RecordSessionAudit(ctx, "session.clear", name, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %q\n", name)
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, mgr *session.Manager) error {
			name := strings.TrimSpace(args[0])
			err := mgr.Delete(ctx, name)
			if errors.Is(err, session.ErrSessionNotFound) {
				return err
			}
			observability.RecordSessionAudit(ctx, "session.delete", name, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %q\n", name)
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsCreateCmd, sessionsClearCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withSessions loads config, logging and the session manager around fn
func withSessions(cmd *cobra.Command, fn func(ctx context.Context, mgr *session.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := initLogging(cfg, false)
	if err != nil {
		return err
	}
	defer lg.Close()

	closeAudit := openAudit(cfg)
	defer closeAudit()

	if isRunning(getPIDFilePath(cfg)) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: a server is running on this store; it may overwrite these changes")
	}

	ctx := cmd.Context()
	mgr, err := openSessions(ctx, cfg, lg.GetZerolog())
	if err != nil {
		return err
	}
	defer mgr.Close()

	return fn(ctx, mgr)
}

// openAudit points the audit log at the configured file and returns its closer
func openAudit(cfg *config.Config) func() {
	if !cfg.Audit.Enabled {
		return func() {}
	}
	if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
		log.Warn().Err(err).Str("path", cfg.Audit.Path).Msg("Failed to open audit log")
		return func() {}
	}
	return func() { observability.GetAuditLogger().Close() }
}

func printTranscript(w io.Writer, sess session.Session) {
	fmt.Fprintf(w, "Session: %s (%d turns)\n", sess.Name, sess.Len())
	for _, turn := range sess.Turns() {
		fmt.Fprintf(w, "\n[%s] %s\n", turn.Role, turn.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintln(w, turn.Text)
		for _, img := range turn.Images {
			fmt.Fprintf(w, "  (image: %s, %d bytes)\n", img.Name, len(img.Data))
		}
	}
}
