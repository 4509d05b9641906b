package consensus

import (
	"context"

	"github.com/sells-group/metaextract/internal/resilience"
	"github.com/sells-group/metaextract/pkg/anthropic"
	"github.com/sells-group/metaextract/pkg/openaicompat"
)

// Canonical verifier names, in the order results are reported.
const (
	VerifierClaude = "claude"
	VerifierGPT4o  = "gpt4o"
	VerifierGroq   = "groq"
)

// Completion is the raw reply of a verifier.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Verifier is one independent model rater.
type Verifier interface {
	// Name is the stable rater key, e.g. "claude".
	Name() string
	// Model is the provider model ID used for pricing.
	Model() string
	Complete(ctx context.Context, system, user string) (*Completion, error)
}

// CallSettings are the sampling parameters shared by every verifier.
type CallSettings struct {
	MaxTokens   int
	Temperature float64
}

// DefaultCallSettings are deterministic, long-form settings.
func DefaultCallSettings() CallSettings {
	return CallSettings{MaxTokens: 4096, Temperature: 0}
}

// AnthropicVerifier verifies through the Anthropic Messages API.
type AnthropicVerifier struct {
	name     string
	model    string
	client   anthropic.Client
	settings CallSettings
}

// NewAnthropicVerifier wraps client as the named verifier.
func NewAnthropicVerifier(name, model string, client anthropic.Client, settings CallSettings) *AnthropicVerifier {
	return &AnthropicVerifier{name: name, model: model, client: client, settings: settings}
}

func (v *AnthropicVerifier) Name() string  { return v.name }
func (v *AnthropicVerifier) Model() string { return v.model }

func (v *AnthropicVerifier) Complete(ctx context.Context, system, user string) (*Completion, error) {
	temp := v.settings.Temperature
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.model,
		MaxTokens:   int64(v.settings.MaxTokens),
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text:         resp.Text(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// ChatVerifier verifies through an OpenAI-compatible endpoint.
type ChatVerifier struct {
	name     string
	model    string
	client   openaicompat.Client
	settings CallSettings
}

// NewChatVerifier wraps client as the named verifier.
func NewChatVerifier(name, model string, client openaicompat.Client, settings CallSettings) *ChatVerifier {
	return &ChatVerifier{name: name, model: model, client: client, settings: settings}
}

func (v *ChatVerifier) Name() string  { return v.name }
func (v *ChatVerifier) Model() string { return v.model }

func (v *ChatVerifier) Complete(ctx context.Context, system, user string) (*Completion, error) {
	resp, err := v.client.Chat(ctx, openaicompat.ChatRequest{
		System:      system,
		User:        user,
		MaxTokens:   v.settings.MaxTokens,
		Temperature: v.settings.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text:         resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// RetryVerifier retries transient failures of the wrapped verifier.
type RetryVerifier struct {
	Verifier
	policy resilience.Policy
}

// WithRetry wraps v so that rate limits, overloads and network blips are
// retried under policy before the call counts as failed.
func WithRetry(v Verifier, policy resilience.Policy) *RetryVerifier {
	return &RetryVerifier{Verifier: v, policy: policy}
}

func (v *RetryVerifier) Complete(ctx context.Context, system, user string) (*Completion, error) {
	return resilience.Do(ctx, v.policy, v.Name()+" complete", func(ctx context.Context) (*Completion, error) {
		return v.Verifier.Complete(ctx, system, user)
	})
}
