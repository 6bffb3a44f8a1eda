package model

import (
	"github.com/harun/multichat/pkg/conversation"
)

const (
	DefaultModel     = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultMaxTokens = 10000
)

// Message is one role-tagged block of a model request
type Message struct {
	Role   conversation.Role
	Text   string
	Images conversation.ImageSet
}

// Request contains the parameters of a single model call
type Request struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// ImageCount returns the number of images attached to the request
func (r Request) ImageCount() int {
	n := 0
	for _, m := range r.Messages {
		n += len(m.Images)
	}
	return n
}

// Response contains the model reply
type Response struct {
	Text       string
	StopReason string
	Usage      *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Options are the tunable request parameters of a Client
type Options struct {
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// DefaultOptions returns the default request parameters
func DefaultOptions() Options {
	return Options{
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
	}
}
