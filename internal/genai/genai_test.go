package genai

import (
	"testing"

	"github.com/openai/openai-go"
)

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.chatModel != openai.ChatModelGPT4oMini {
		t.Errorf("expected default chat model %s, got %s", openai.ChatModelGPT4oMini, client.chatModel)
	}
	if client.embedModel != openai.EmbeddingModelTextEmbedding3Small {
		t.Errorf("expected default embed model %s, got %s", openai.EmbeddingModelTextEmbedding3Small, client.embedModel)
	}
}

func TestNewClient_ModelOverrides(t *testing.T) {
	client, err := NewClient(
		WithAPIKey("test-key"),
		WithChatModel("gpt-4o"),
		WithEmbedModel("text-embedding-3-large"),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.chatModel != openai.ChatModel("gpt-4o") {
		t.Errorf("expected overridden chat model, got %s", client.chatModel)
	}
	if client.embedModel != openai.EmbeddingModel("text-embedding-3-large") {
		t.Errorf("expected overridden embed model, got %s", client.embedModel)
	}
}

func TestNewClient_KeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	_, err := NewClient()
	if err != nil {
		t.Errorf("expected env key to satisfy NewClient, got %v", err)
	}
}
