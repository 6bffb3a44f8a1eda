package model

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultRegion is the AWS region used when none is configured
const DefaultRegion = "us-east-1"

// NewBedrockProvider creates an Anthropic provider that talks to Amazon Bedrock.
// Credentials come from the AWS default credential chain.
func NewBedrockProvider(ctx context.Context, region string) (*AnthropicProvider, error) {
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newAnthropicProvider(ProviderBedrock, bedrock.WithConfig(awsCfg)), nil
}
