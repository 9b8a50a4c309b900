package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/astrolab/research-agent/embeddings"
	"github.com/astrolab/research-agent/llm"
)

const defaultTopK = 5

// Engine runs one retrieval+generation attempt against the document index.
// The orchestrator decides which model to use and what to do with failures.
type Engine interface {
	// Ready reports whether any documents have been ingested.
	Ready(ctx context.Context) bool
	RetrieveAndGenerate(ctx context.Context, model, question string) (Generation, error)
}

// RAGEngine embeds the question, pulls the nearest chunks from the vector
// store, folds graph insights into the context prompt, and asks the LLM.
type RAGEngine struct {
	vectors  VectorStore
	graph    GraphStore
	embedder embeddings.Embedder
	llm      llm.Client
	topK     int
	logger   *log.Logger
}

func NewRAGEngine(vectors VectorStore, graph GraphStore, embedder embeddings.Embedder, llmClient llm.Client, topK int, logger *log.Logger) *RAGEngine {
	if logger == nil {
		logger = log.Default()
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	return &RAGEngine{
		vectors:  vectors,
		graph:    graph,
		embedder: embedder,
		llm:      llmClient,
		topK:     topK,
		logger:   logger,
	}
}

func (e *RAGEngine) Ready(ctx context.Context) bool {
	if e.vectors == nil {
		return false
	}
	count, err := e.vectors.DocumentCount(ctx)
	if err != nil {
		e.logger.Printf("document count check: %v", err)
		return false
	}
	return count > 0
}

func (e *RAGEngine) RetrieveAndGenerate(ctx context.Context, model, question string) (Generation, error) {
	if e.embedder == nil {
		return Generation{}, fmt.Errorf("embedder is not configured")
	}
	if e.vectors == nil {
		return Generation{}, fmt.Errorf("vector store is not configured")
	}
	if e.llm == nil {
		return Generation{}, fmt.Errorf("llm client is not configured")
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Generation{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return Generation{}, fmt.Errorf("embedder returned no vectors")
	}

	chunks, err := e.vectors.SimilarChunks(ctx, vectors[0], e.topK)
	if err != nil {
		return Generation{}, fmt.Errorf("vector search: %w", err)
	}

	insights := map[string]DocumentInsight{}
	if e.graph != nil && len(chunks) > 0 {
		docIDs := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			docIDs = append(docIDs, chunk.DocumentID)
		}
		insightMap, insightErr := e.graph.DocumentInsights(ctx, unique(docIDs))
		if insightErr != nil {
			e.logger.Printf("graph insights error: %v", insightErr)
		} else {
			insights = insightMap
		}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: formatUserPrompt(question, buildContextPrompt(chunks, insights))},
	}

	answer, err := e.llm.Generate(ctx, model, messages)
	if err != nil {
		return Generation{}, fmt.Errorf("llm generate: %w", err)
	}

	passages := make([]Passage, 0, len(chunks))
	for _, chunk := range chunks {
		passages = append(passages, Passage{
			Text:     chunk.Content,
			Score:    chunk.Score,
			FileName: chunk.FileName,
			Title:    chunk.Title,
			Path:     chunk.Path,
			Page:     chunk.Page,
		})
	}

	return Generation{Answer: answer, Passages: passages}, nil
}

var _ Engine = (*RAGEngine)(nil)

func buildContextPrompt(chunks []ChunkResult, insights map[string]DocumentInsight) string {
	if len(chunks) == 0 {
		return ""
	}

	var sb strings.Builder
	for idx, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("Source %d: %s", idx+1, chunk.FileName))
		if chunk.Page > 0 {
			sb.WriteString(fmt.Sprintf(" (page %d)", chunk.Page))
		}
		sb.WriteString("\n")
		if insight, ok := insights[chunk.DocumentID]; ok {
			if len(insight.Topics) > 0 {
				sb.WriteString("Topics: " + strings.Join(insight.Topics, ", ") + "\n")
			}
			if len(insight.RelatedDocuments) > 0 {
				titles := make([]string, 0, len(insight.RelatedDocuments))
				for _, related := range insight.RelatedDocuments {
					if related.Title != "" {
						titles = append(titles, related.Title)
					}
				}
				if len(titles) > 0 {
					sb.WriteString("Related documents: " + strings.Join(titles, "; ") + "\n")
				}
			}
		}
		sb.WriteString(strings.TrimSpace(chunk.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func systemPrompt() string {
	return "You are a research assistant answering questions about indexed research documents. Answer only from the supplied context, citing Source numbers in brackets (e.g., [Source 1]). If the context does not contain the answer, say that you don't have specific information about it in the indexed documents."
}

func formatUserPrompt(question, context string) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	if strings.TrimSpace(context) != "" {
		sb.WriteString("\nContext:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\nAnswer in markdown. Begin with the direct answer and cite the Source numbers you used.")
	return sb.String()
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
