package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/multichat/pkg/conversation"
)

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Call(ctx context.Context, request Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Text: p.reply, Usage: &TokenUsage{InputTokens: 3, OutputTokens: 5}}, nil
}

func testImage(name string) conversation.Image {
	return conversation.Image{Name: name, MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

func TestBuildRequestFlattensHistory(t *testing.T) {
	history := []conversation.Turn{
		conversation.NewUserTurn("first", testImage("old.png")),
		conversation.NewAssistantTurn("answer"),
	}
	images := conversation.ImageSet{testImage("a.png"), testImage("b.png")}

	req := BuildRequest(DefaultOptions(), "second", history, images)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, conversation.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "first", req.Messages[0].Text)
	assert.Empty(t, req.Messages[0].Images)
	assert.Equal(t, conversation.RoleAssistant, req.Messages[1].Role)
	assert.Empty(t, req.Messages[1].Images)

	last := req.Messages[2]
	assert.Equal(t, conversation.RoleUser, last.Role)
	assert.Equal(t, "second", last.Text)
	require.Len(t, last.Images, 2)
	assert.Equal(t, "a.png", last.Images[0].Name)
	assert.Equal(t, "b.png", last.Images[1].Name)

	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, 2, req.ImageCount())
}

func TestBuildRequestWithoutImages(t *testing.T) {
	req := BuildRequest(DefaultOptions(), "hello", nil, nil)
	require.Len(t, req.Messages, 1)
	assert.Nil(t, req.Messages[0].Images)
}

func TestNewClientRequiresProvider(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestRespond(t *testing.T) {
	provider := &fakeProvider{reply: "hi there"}
	client, err := NewClient(ClientConfig{Provider: provider})
	require.NoError(t, err)

	reply, err := client.Respond(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	require.Len(t, provider.requests, 1)
	assert.Equal(t, "hello", provider.requests[0].Messages[0].Text)
}

func TestRespondErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		prompt   string
		wantErr  error
	}{
		{name: "empty prompt", provider: &fakeProvider{reply: "x"}, prompt: "  ", wantErr: ErrEmptyPrompt},
		{name: "empty reply", provider: &fakeProvider{reply: " \n"}, prompt: "hi", wantErr: ErrEmptyReply},
		{name: "provider failure", provider: &fakeProvider{err: errors.New("throttled")}, prompt: "hi", wantErr: ErrCallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ClientConfig{Provider: tt.provider})
			require.NoError(t, err)

			_, err = client.Respond(context.Background(), tt.prompt, nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantErr != ErrEmptyPrompt, IsUpstreamError(err))
		})
	}
}

func TestSetOptionsAppliesToLaterCalls(t *testing.T) {
	provider := &fakeProvider{reply: "ok"}
	client, err := NewClient(ClientConfig{Provider: provider, Options: Options{Model: "first"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, client.Options().MaxTokens)

	client.SetOptions(Options{Model: "second", MaxTokens: 100, Temperature: 0.5})

	_, err = client.Respond(context.Background(), "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", provider.requests[0].Model)
	assert.Equal(t, 100, provider.requests[0].MaxTokens)
	assert.Equal(t, 0.5, provider.requests[0].Temperature)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Name: "gemini"})
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), ProviderConfig{Name: ProviderOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	p, err = NewProvider(context.Background(), ProviderConfig{Name: ProviderAnthropic, APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())
}
