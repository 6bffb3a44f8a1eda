package model

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/multichat/pkg/conversation"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
// The same provider serves Bedrock when built with bedrock request options.
type AnthropicProvider struct {
	client anthropic.Client
	name   string
}

// NewAnthropicProvider creates a provider for the Anthropic API.
// An empty apiKey falls back to ANTHROPIC_API_KEY.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return newAnthropicProvider(ProviderAnthropic, opts...)
}

func newAnthropicProvider(name string, opts ...option.RequestOption) *AnthropicProvider {
	opts = append(opts, option.WithMaxRetries(0))
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		name:   name,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return p.name
}

// Call makes an API call to the Messages endpoint
func (p *AnthropicProvider) Call(ctx context.Context, request Request) (*Response, error) {
	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  toAnthropicMessages(request.Messages),
		MaxTokens: int64(request.MaxTokens),
	}

	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		}
	}

	return &Response{
		Text:       text.String(),
		StopReason: string(response.StopReason),
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(msg.Text),
		}
		for _, img := range msg.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
		}

		if msg.Role == conversation.RoleAssistant {
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
			continue
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}
	return out
}
