package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/imaging"
	"github.com/harun/multichat/pkg/session"
)

var (
	askSession string
	askImages  []string
	askCreate  bool
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask --session NAME [--image FILE]... PROMPT",
	Short: "Send one prompt to a session and print the reply",
	Long: `Send one prompt, optionally with JPEG or PNG images, to a session.
The prompt and the reply are appended to the session and saved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session name")
	askCmd.Flags().StringSliceVarP(&askImages, "image", "i", nil, "image file to attach (repeatable)")
	askCmd.Flags().BoolVar(&askCreate, "create", false, "create the session if it does not exist")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0, "model call deadline (0 waits for the reply)")
	_ = askCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	uploads := make([]imaging.Upload, 0, len(askImages))
	for _, path := range askImages {
		upload, err := readImageFile(path)
		if err != nil {
			return err
		}
		uploads = append(uploads, upload)
	}
	images, err := imaging.NormalizeAll(uploads)
	if err != nil {
		return err
	}

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

	ctx := cmd.Context()
	zl := lg.GetZerolog()

	mgr, err := openSessions(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer mgr.Close()

	svc, err := newChatService(ctx, cfg, mgr, nil, zl)
	if err != nil {
		return err
	}

	if askCreate {
		if _, err := svc.Create(ctx, askSession); err != nil && !errors.Is(err, session.ErrSessionExists) {
			return err
		}
	}

	if askTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, askTimeout)
		defer cancel()
	}

	res, err := svc.Submit(ctx, chat.SubmitParams{
		Session: askSession,
		Prompt:  prompt,
		Images:  images,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Assistant.Text)
	return nil
}

func readImageFile(path string) (imaging.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return imaging.Upload{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	return imaging.ReadUpload(path, f)
}
