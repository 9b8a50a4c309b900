package embeddings

import (
	"testing"

	"github.com/astrolab/research-agent/config"
)

func TestNewEmbedderOllama(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingsConfig{Provider: config.ProviderOllama, Model: "nomic-embed-text", Dimension: 768},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder == nil {
		t.Fatal("expected an embedder")
	}
}

func TestNewEmbedderOpenAIRequiresKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingsConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-004", Dimension: 768},
	}

	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingsConfig{Provider: "cohere"},
	}

	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
