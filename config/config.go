// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type LLMConfig struct {
	Provider string
	// Models is the fallback roster: the first entry is the primary model,
	// the rest are tried in order when the current one hits a quota error.
	Models []string
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type RetrievalConfig struct {
	TopK               int
	RelevanceThreshold float64
	ExcerptLength      int
	MaxImages          int
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	DataDir         string
	ImageDir        string
	ImageStorePath  string
	DocMetadataPath string

	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Retrieval  RetrievalConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	ListenAddr string
}

func Load() Config {
	// Best effort, mirrors python-dotenv behavior: a missing .env is fine.
	_ = godotenv.Load()

	return Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/research-agent?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		DataDir:         getEnv("DATA_DIR", "./data"),
		ImageDir:        getEnv("IMAGE_DIR", "./extracted_images"),
		ImageStorePath:  getEnv("IMAGE_STORE_PATH", "./extracted_images/image_metadata.json"),
		DocMetadataPath: getEnv("DOC_METADATA_PATH", ".document_metadata.json"),

		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOpenAI),
			Models:   splitModels(getEnv("LLM_MODELS", "gemini-2.0-flash,gemini-1.5-flash,gemini-1.5-flash-8b")),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		Retrieval: RetrievalConfig{
			TopK:               getEnvInt("RETRIEVAL_TOP_K", 5),
			RelevanceThreshold: getEnvFloat("RELEVANCE_THRESHOLD", 0.3),
			ExcerptLength:      getEnvInt("SOURCE_EXCERPT_LENGTH", 200),
			MaxImages:          getEnvInt("MAX_RESPONSE_IMAGES", 3),
		},

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

func splitModels(raw string) []string {
	parts := strings.Split(raw, ",")
	models := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			models = append(models, trimmed)
		}
	}
	return models
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
