package llm

import (
	"testing"

	"github.com/astrolab/research-agent/config"
)

func TestNewClientOllama(t *testing.T) {
	cfg := config.Config{
		LLM:        config.LLMConfig{Provider: config.ProviderOllama},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*ollamaClient); !ok {
		t.Fatalf("expected ollama client, got %T", client)
	}
}

func TestNewClientOpenAIRequiresKey(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{Provider: config.ProviderOpenAI},
	}

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error when api key missing")
	}

	cfg.OpenAIAPIKey = "test-key"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{Provider: "watsonx"},
	}

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
