// Package openaicompat is a chat client for OpenAI-compatible endpoints
// (OpenAI itself and Groq), built on langchaingo.
package openaicompat

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// GroqBaseURL is Groq's OpenAI-compatible API root.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Client sends a single system+user exchange and returns the reply.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is one single-turn completion request.
type ChatRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the first choice of a completion plus token usage.
type ChatResponse struct {
	Content      string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Model             string
	APIKey            string
	RequestsPerMinute int
}

// generator is the subset of langchaingo's model API used here.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type client struct {
	llm     generator
	model   string
	limiter *rate.Limiter
}

// New creates a Client for cfg.Model at cfg.BaseURL (the OpenAI API when empty).
func New(cfg Config) (Client, error) {
	if cfg.Model == "" {
		return nil, eris.New("openaicompat: model is required")
	}
	if cfg.APIKey == "" {
		return nil, eris.Errorf("openaicompat: api key is required for %s", cfg.Model)
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "openaicompat: create client for %s", cfg.Model)
	}

	c := &client{llm: llm, model: cfg.Model}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

func (c *client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "openaicompat: rate limit")
		}
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.System}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: req.User}},
	})

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "openaicompat: generate content with %s", c.model)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, eris.Errorf("openaicompat: %s returned no choices", c.model)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Content,
		StopReason:   choice.StopReason,
		InputTokens:  tokenCount(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: tokenCount(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

func tokenCount(info map[string]any, key string) int64 {
	switch v := info[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
