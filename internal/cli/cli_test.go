package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/harun/multichat/pkg/model"
)

type stubProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []model.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, request model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return &model.Response{Text: p.reply}, nil
}

// useStubProvider routes every model call made by commands to a stub
func useStubProvider(t *testing.T, reply string) *stubProvider {
	t.Helper()
	stub := &stubProvider{reply: reply}
	prev := newProvider
	newProvider = func(ctx context.Context, cfg model.ProviderConfig) (model.Provider, error) {
		return stub, nil
	}
	t.Cleanup(func() { newProvider = prev })
	return stub
}

// writeTestConfig writes a config whose data directory is a fresh temp dir
func writeTestConfig(t *testing.T, extra string) (configPath, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	configPath = filepath.Join(dataDir, "multichat.json")

	body := `{"data_dir":"` + filepath.ToSlash(dataDir) + `","logging":{"level":"info"}` + extra + `}`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0600))
	return configPath, dataDir
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand runs the root command with args and returns its combined output
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), stdin, args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return output.String(), err
}
