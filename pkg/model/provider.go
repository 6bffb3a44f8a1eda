package model

import (
	"context"
	"fmt"
)

const (
	ProviderBedrock   = "bedrock"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Provider is an interface for model API providers
type Provider interface {
	// Call makes one model API call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// ProviderConfig selects and configures a Provider
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Region  string
}

// NewProvider creates a provider from cfg
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "", ProviderBedrock:
		return NewBedrockProvider(ctx, cfg.Region)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}
