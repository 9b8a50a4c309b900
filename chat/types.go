package chat

import "github.com/astrolab/research-agent/imagestore"

// ChunkResult is one row from the vector search.
type ChunkResult struct {
	ChunkID    string
	DocumentID string
	Title      string
	Path       string
	FileName   string
	Page       int
	Content    string
	Score      float64
}

// DocumentInsight carries graph-derived context for a document.
type DocumentInsight struct {
	ChunkCount       int
	Folders          []string
	Topics           []string
	RelatedDocuments []RelatedDocument
}

type RelatedDocument struct {
	ID    string
	Title string
	Path  string
}

// Passage is one retrieved excerpt handed from the engine to the
// orchestrator, before relevance filtering and truncation.
type Passage struct {
	Text     string
	Score    float64
	FileName string
	Title    string
	Path     string
	Page     int
}

// Generation is the raw outcome of one retrieval+generation attempt.
type Generation struct {
	Answer   string
	Passages []Passage
}

// Source is a cited passage as returned to the presentation layer: excerpt
// already truncated, score above the configured threshold.
type Source struct {
	Excerpt  string
	Score    float64
	FileName string
	Title    string
	Page     int
	URL      string
}

// Failure classifies a degraded result. Degraded results still carry a
// chat-style Answer; they are not errors.
type Failure string

const (
	FailureNone           Failure = ""
	FailureNoIndex        Failure = "no_index"
	FailureQuotaExhausted Failure = "quota_exhausted"
	FailureUnknown        Failure = "unknown"
)

// Result is the complete response to one question. Immutable once returned.
type Result struct {
	Answer  string
	Sources []Source
	Images  []imagestore.ImageRef
	Model   string
	Failure Failure
}
