package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/harun/multichat/pkg/model"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading from stdin and writing to stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard over the given streams
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard starting from base.
// A nil base starts from DefaultConfig.
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== MultiChat Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	if base != nil {
		c := *base
		cfg = &c
	}
	v := NewValidator()

	var err error

	fmt.Fprintln(w.out, "Model provider:")
	fmt.Fprintln(w.out, "  bedrock   - Anthropic models on Amazon Bedrock (AWS credentials)")
	fmt.Fprintln(w.out, "  anthropic - Anthropic API")
	fmt.Fprintln(w.out, "  openai    - OpenAI API")
	if cfg.Model.Provider, err = w.ask("Provider", cfg.Model.Provider, v.ValidateProvider); err != nil {
		return nil, err
	}

	switch cfg.Model.Provider {
	case model.ProviderBedrock:
		region := cfg.Model.Region
		if region == "" {
			region = model.DefaultRegion
		}
		if cfg.Model.Region, err = w.ask("AWS region", region, v.ValidateRegion); err != nil {
			return nil, err
		}
		cfg.Model.APIKey = ""
	default:
		provider := cfg.Model.Provider
		key, err := w.ask(provider+" API key (Enter to use environment)", "", func(s string) error {
			if s == "" {
				return nil
			}
			return v.ValidateAPIKey(s, provider)
		})
		if err != nil {
			return nil, err
		}
		cfg.Model.APIKey = key
	}

	fmt.Fprintln(w.out)
	if cfg.Model.Model, err = w.ask("Model id", defaultModelFor(cfg), v.ValidateModel); err != nil {
		return nil, err
	}

	tokens, err := w.ask("Max tokens", strconv.Itoa(cfg.Model.MaxTokens), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("max tokens must be a number")
		}
		return v.ValidateMaxTokens(n)
	})
	if err != nil {
		return nil, err
	}
	cfg.Model.MaxTokens, _ = strconv.Atoi(tokens)

	fmt.Fprintln(w.out)
	backend := cfg.Store.Backend
	if cfg.Store.Backend, err = w.ask("Session store (json/sqlite)", backend, v.ValidateBackend); err != nil {
		return nil, err
	}
	if cfg.Store.Backend != backend {
		// Re-derive the default file name for the new backend
		cfg.Store.Path = ""
	}

	fmt.Fprintln(w.out)
	if cfg.Logging.Level, err = w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level, v.ValidateLogLevel); err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prompts until validate accepts the answer. An empty answer selects def.
func (w *Wizard) ask(prompt, def string, validate func(string) error) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(w.out, "%s: ", prompt)
		}

		answer, err := w.readLine()
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = def
		}

		if validate != nil {
			if err := validate(answer); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
		}
		return answer, nil
	}
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func defaultModelFor(cfg *Config) string {
	current := cfg.Model.Model
	switch cfg.Model.Provider {
	case model.ProviderBedrock:
		if current == "" {
			return model.DefaultModel
		}
	case model.ProviderAnthropic:
		if current == "" || current == model.DefaultModel {
			return "claude-3-5-sonnet-20240620"
		}
	case model.ProviderOpenAI:
		if current == "" || current == model.DefaultModel {
			return "gpt-4o"
		}
	}
	return current
}

