// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// It wraps chat completions for response generation and intent
// classification, and embeddings for the policy corpus search.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Per-call timeouts. External calls must be bounded; a timeout is handled as
// a regular failure by callers.
const (
	chatTimeout  = 30 * time.Second
	embedTimeout = 15 * time.Second
)

// ClientInterface defines the GenAI surface consumed by the flow engine, the
// intent classifier, and the policy corpus.
type ClientInterface interface {
	// Complete generates a reply from a system and user prompt pair.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// GenerateWithMessages generates a reply from a full message array.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)

	// Embed returns an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client wraps the OpenAI client.
type Client struct {
	client     openai.Client
	chatModel  openai.ChatModel
	embedModel openai.EmbeddingModel
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithChatModel overrides the default chat model.
func WithChatModel(model string) Option {
	return func(o *Opts) { o.ChatModel = model }
}

// WithEmbedModel overrides the default embedding model.
func WithEmbedModel(model string) Option {
	return func(o *Opts) { o.EmbedModel = model }
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	chatModel := openai.ChatModelGPT4oMini
	if cfg.ChatModel != "" {
		chatModel = openai.ChatModel(cfg.ChatModel)
	}
	embedModel := openai.EmbeddingModelTextEmbedding3Small
	if cfg.EmbedModel != "" {
		embedModel = openai.EmbeddingModel(cfg.EmbedModel)
	}

	slog.Debug("genai: client initialized", "chatModel", chatModel, "embedModel", embedModel)
	return &Client{
		client:     openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		chatModel:  chatModel,
		embedModel: embedModel,
	}, nil
}

// Complete generates a reply from a system and user prompt pair.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages generates a reply from a full message array.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai: chat completion failed", "error", err, "latency", time.Since(start))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	slog.Debug("genai: chat completion succeeded", "latency", time.Since(start), "messageCount", len(messages))
	return resp.Choices[0].Message.Content, nil
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embedModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	})
	if err != nil {
		slog.Error("genai: embedding failed", "error", err)
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
