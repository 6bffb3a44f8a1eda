package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/conversation"
)

var (
	// ErrEmptyReply is returned when the model reply contains no text
	ErrEmptyReply = errors.New("model returned an empty reply")
	// ErrEmptyPrompt is returned when Respond is called without prompt text
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrCallFailed wraps errors returned by the provider
	ErrCallFailed = errors.New("model call failed")
)

// ClientConfig configures a Client
type ClientConfig struct {
	Provider Provider
	Options  Options
	Logger   *zerolog.Logger
}

// Client turns a conversation plus a new prompt into one model call
type Client struct {
	provider Provider
	logger   zerolog.Logger

	mu   sync.RWMutex
	opts Options
}

// NewClient creates a client. Unset options fall back to DefaultOptions.
func NewClient(cfg ClientConfig) (*Client, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		provider: cfg.Provider,
		logger:   logger.With().Str("component", "model-client").Str("provider", cfg.Provider.Name()).Logger(),
		opts:     withDefaults(cfg.Options),
	}, nil
}

func withDefaults(opts Options) Options {
	defaults := DefaultOptions()
	if opts.Model == "" {
		opts.Model = defaults.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	return opts
}

// ProviderName returns the name of the underlying provider
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Options returns the current request options
func (c *Client) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// SetOptions replaces the request options used by later calls
func (c *Client) SetOptions(opts Options) {
	opts = withDefaults(opts)

	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()

	c.logger.Info().
		Str("model", opts.Model).
		Int("max_tokens", opts.MaxTokens).
		Float64("temperature", opts.Temperature).
		Msg("Model options updated")
}

// BuildRequest flattens history to text blocks and appends prompt as the final
// user block carrying images.
func BuildRequest(opts Options, prompt string, history []conversation.Turn, images conversation.ImageSet) Request {
	messages := lo.Map(history, func(turn conversation.Turn, _ int) Message {
		return Message{Role: turn.Role, Text: turn.Text}
	})
	messages = append(messages, Message{
		Role:   conversation.RoleUser,
		Text:   prompt,
		Images: images.Clone(),
	})

	return Request{
		Model:        opts.Model,
		Messages:     messages,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
		SystemPrompt: opts.SystemPrompt,
	}
}

// Respond sends history plus prompt to the model and returns the reply text.
// It blocks until the call completes or ctx is done.
func (c *Client) Respond(ctx context.Context, prompt string, history []conversation.Turn, images conversation.ImageSet) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	request := BuildRequest(c.Options(), prompt, history, images)

	ctx = tracing.WithProvider(ctx, c.provider.Name())
	ctx, span := tracing.StartSpan(
		ctx,
		"model.respond",
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", request.Model),
		attribute.Int("messages", len(request.Messages)),
		attribute.Int("images", request.ImageCount()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	start := time.Now()
	response, err := c.provider.Call(ctx, request)
	duration := time.Since(start)

	if err == nil && (response == nil || strings.TrimSpace(response.Text) == "") {
		err = ErrEmptyReply
	}
	observability.RecordModelCall(c.provider.Name(), duration, request.ImageCount(), err == nil)

	if err != nil {
		logger.Error().
			Err(err).
			Dur("duration", duration).
			Str("model", request.Model).
			Msg("Model call failed")
		if errors.Is(err, ErrEmptyReply) {
			return "", tracing.FailSpan(span, err)
		}
		return "", tracing.FailSpan(span, fmt.Errorf("%w: %w", ErrCallFailed, err))
	}

	event := logger.Info().
		Dur("duration", duration).
		Str("model", request.Model).
		Int("images", request.ImageCount())
	if response.Usage != nil {
		event = event.
			Int("input_tokens", response.Usage.InputTokens).
			Int("output_tokens", response.Usage.OutputTokens)
		span.SetAttributes(
			attribute.Int("input_tokens", response.Usage.InputTokens),
			attribute.Int("output_tokens", response.Usage.OutputTokens),
		)
	}
	event.Msg("Model replied")

	return response.Text, nil
}

// IsUpstreamError reports whether err came from the remote model rather than the caller
func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrCallFailed) || errors.Is(err, ErrEmptyReply)
}
