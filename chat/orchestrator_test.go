package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/astrolab/research-agent/imagestore"
)

type engineCall struct {
	model string
}

// scriptedEngine returns one scripted outcome per attempt, in order.
type scriptedEngine struct {
	ready    bool
	outcomes []scriptedOutcome
	calls    []engineCall
}

type scriptedOutcome struct {
	generation Generation
	err        error
}

func (e *scriptedEngine) Ready(ctx context.Context) bool {
	return e.ready
}

func (e *scriptedEngine) RetrieveAndGenerate(ctx context.Context, model, question string) (Generation, error) {
	e.calls = append(e.calls, engineCall{model: model})
	if len(e.outcomes) == 0 {
		return Generation{}, errors.New("no scripted outcome left")
	}
	outcome := e.outcomes[0]
	e.outcomes = e.outcomes[1:]
	return outcome.generation, outcome.err
}

var _ Engine = (*scriptedEngine)(nil)

type stubMatcher struct {
	images   []imagestore.ImageRef
	lastDocs []string
}

func (m *stubMatcher) Match(docNames []string, limit int) []imagestore.ImageRef {
	m.lastDocs = docNames
	if len(m.images) > limit {
		return m.images[:limit]
	}
	return m.images
}

type stubLinks struct {
	urls map[string]string
}

func (l *stubLinks) URLFor(filename string) string {
	return l.urls[filename]
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestOrchestrator(t *testing.T, engine Engine, matcher ImageMatcher, links LinkResolver, roster []string, opts Options) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(engine, matcher, links, roster, opts, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return orch
}

func TestNewOrchestratorRequiresRoster(t *testing.T) {
	if _, err := NewOrchestrator(&scriptedEngine{}, nil, nil, nil, Options{}, testLogger()); err == nil {
		t.Fatal("expected error for empty roster")
	}
}

func TestQueryWithoutIndexReturnsOnboarding(t *testing.T) {
	engine := &scriptedEngine{ready: false}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a"}, Options{})

	for i := 0; i < 3; i++ {
		result := orch.Query(context.Background(), "anything?")
		if result.Failure != FailureNoIndex {
			t.Fatalf("expected no-index failure, got %q", result.Failure)
		}
		if result.Answer != noIndexMessage {
			t.Fatalf("unexpected answer: %q", result.Answer)
		}
		if len(result.Sources) != 0 || len(result.Images) != 0 {
			t.Fatal("degraded result must have empty sources and images")
		}
	}

	if len(engine.calls) != 0 {
		t.Fatalf("engine should not be called without an index, got %d calls", len(engine.calls))
	}
}

func TestQueryFiltersSourcesByThreshold(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer: "Plants grow slower in microgravity. [Source 1]",
				Passages: []Passage{
					{Text: "low relevance", Score: 0.1, FileName: "a.pdf"},
					{Text: "borderline", Score: 0.3, FileName: "b.pdf"},
					{Text: "high relevance", Score: 0.5, FileName: "c.pdf"},
				},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a"}, Options{RelevanceThreshold: 0.3})

	result := orch.Query(context.Background(), "How do plants grow in space?")
	if result.Failure != FailureNone {
		t.Fatalf("unexpected failure: %q", result.Failure)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(result.Sources))
	}
	if result.Sources[0].Score != 0.3 || result.Sources[1].Score != 0.5 {
		t.Fatalf("threshold filter kept wrong sources: %+v", result.Sources)
	}
}

func TestQueryTruncatesExcerpts(t *testing.T) {
	long := strings.Repeat("x", 500)
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer:   "answer",
				Passages: []Passage{{Text: long, Score: 0.9, FileName: "a.pdf"}},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a"}, Options{ExcerptLength: 200})

	result := orch.Query(context.Background(), "question")
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(result.Sources))
	}
	excerpt := result.Sources[0].Excerpt
	if !strings.HasSuffix(excerpt, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", excerpt[len(excerpt)-10:])
	}
	if len(excerpt) != 203 {
		t.Fatalf("expected 200 chars plus ellipsis, got %d", len(excerpt))
	}
}

func TestQueryShortExcerptNotTruncated(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer:   "answer",
				Passages: []Passage{{Text: "short text", Score: 0.9, FileName: "a.pdf"}},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a"}, Options{})

	result := orch.Query(context.Background(), "question")
	if result.Sources[0].Excerpt != "short text" {
		t.Fatalf("short excerpt should be untouched, got %q", result.Sources[0].Excerpt)
	}
}

func TestQueryFallsBackOnQuotaError(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{
			{err: errors.New("429 Too Many Requests: quota exceeded")},
			{generation: Generation{Answer: "answer from fallback"}},
		},
	}

	var downgrades []int
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a", "model-b", "model-c"}, Options{
		OnDowngrade: func(idx int) { downgrades = append(downgrades, idx) },
	})

	result := orch.Query(context.Background(), "question")
	if result.Failure != FailureNone {
		t.Fatalf("unexpected failure: %q", result.Failure)
	}
	if result.Model != "model-b" {
		t.Fatalf("expected answer from model-b, got %q", result.Model)
	}
	if len(downgrades) != 1 || downgrades[0] != 1 {
		t.Fatalf("expected single downgrade to index 1, got %v", downgrades)
	}
	if len(engine.calls) != 2 || engine.calls[0].model != "model-a" || engine.calls[1].model != "model-b" {
		t.Fatalf("unexpected call sequence: %+v", engine.calls)
	}
}

func TestQueryStaysOnDowngradedModel(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{
			{err: errors.New("rate limit hit")},
			{generation: Generation{Answer: "first"}},
			{generation: Generation{Answer: "second"}},
		},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a", "model-b"}, Options{})

	first := orch.Query(context.Background(), "q1")
	if first.Model != "model-b" {
		t.Fatalf("expected model-b, got %q", first.Model)
	}

	second := orch.Query(context.Background(), "q2")
	if second.Model != "model-b" {
		t.Fatalf("downgrade should be sticky, got %q", second.Model)
	}
	if orch.CurrentModel() != "model-b" {
		t.Fatalf("expected current model model-b, got %q", orch.CurrentModel())
	}
}

func TestQueryExhaustsRoster(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{
			{err: errors.New("quota exceeded")},
			{err: errors.New("RESOURCE EXHAUSTED")},
			{err: errors.New("too many requests")},
		},
	}

	var downgrades []int
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a", "model-b", "model-c"}, Options{
		OnDowngrade: func(idx int) { downgrades = append(downgrades, idx) },
	})

	result := orch.Query(context.Background(), "question")
	if result.Failure != FailureQuotaExhausted {
		t.Fatalf("expected quota exhaustion, got %q", result.Failure)
	}
	if result.Answer != quotaMessage {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if len(result.Sources) != 0 || len(result.Images) != 0 {
		t.Fatal("degraded result must have empty sources and images")
	}
	// Two real downgrades happened; the final failure is not a transition.
	if len(downgrades) != 2 {
		t.Fatalf("expected 2 downgrade notifications, got %v", downgrades)
	}

	// Exhausted is terminal: no further attempts until reset.
	callsBefore := len(engine.calls)
	again := orch.Query(context.Background(), "question")
	if again.Failure != FailureQuotaExhausted {
		t.Fatalf("expected exhausted state to persist, got %q", again.Failure)
	}
	if len(engine.calls) != callsBefore {
		t.Fatal("exhausted orchestrator must not call the engine")
	}
}

func TestResetRestoresPrimaryModel(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{
			{err: errors.New("quota exceeded")},
			{err: errors.New("quota exceeded")},
			{generation: Generation{Answer: "back on primary"}},
		},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a", "model-b"}, Options{})

	result := orch.Query(context.Background(), "question")
	if result.Failure != FailureQuotaExhausted {
		t.Fatalf("expected exhaustion, got %q", result.Failure)
	}

	orch.Reset()
	if orch.CurrentModel() != "model-a" {
		t.Fatalf("reset should restore primary model, got %q", orch.CurrentModel())
	}

	result = orch.Query(context.Background(), "question")
	if result.Failure != FailureNone || result.Model != "model-a" {
		t.Fatalf("expected success on primary after reset, got %+v", result)
	}
}

func TestQueryFailsFastOnNonQuotaError(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{
			{err: errors.New("connection refused")},
		},
	}

	var downgrades []int
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a", "model-b"}, Options{
		OnDowngrade: func(idx int) { downgrades = append(downgrades, idx) },
	})

	result := orch.Query(context.Background(), "question")
	if result.Failure != FailureUnknown {
		t.Fatalf("expected unknown failure, got %q", result.Failure)
	}
	if result.Answer != unknownMessage {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("non-quota error must not retry, got %d calls", len(engine.calls))
	}
	if len(downgrades) != 0 {
		t.Fatalf("non-quota error must not downgrade, got %v", downgrades)
	}
	if orch.CurrentModel() != "model-a" {
		t.Fatalf("model index must not advance, got %q", orch.CurrentModel())
	}
}

func TestQueryEmptyAnswerTreatedAsNoIndex(t *testing.T) {
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer:   "   \n\t  ",
				Passages: []Passage{{Text: "something", Score: 0.9, FileName: "a.pdf"}},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, nil, nil, []string{"model-a"}, Options{})

	result := orch.Query(context.Background(), "question")
	if result.Failure != FailureNoIndex {
		t.Fatalf("expected no-index degradation, got %q", result.Failure)
	}
	if len(result.Sources) != 0 {
		t.Fatal("degraded result must not carry sources")
	}
}

func TestQueryCollectsDistinctDocumentNamesForImages(t *testing.T) {
	matcher := &stubMatcher{images: []imagestore.ImageRef{
		{Path: "img1.png", SourcePDF: "a.pdf", Page: 2},
	}}
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer: "answer",
				Passages: []Passage{
					{Text: "one", Score: 0.9, FileName: "a.pdf"},
					{Text: "two", Score: 0.8, FileName: "a.pdf"},
					{Text: "three", Score: 0.7, FileName: "b.pdf"},
					{Text: "below threshold", Score: 0.1, FileName: "c.pdf"},
				},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, matcher, nil, []string{"model-a"}, Options{RelevanceThreshold: 0.3})

	result := orch.Query(context.Background(), "question")
	if len(matcher.lastDocs) != 2 || matcher.lastDocs[0] != "a.pdf" || matcher.lastDocs[1] != "b.pdf" {
		t.Fatalf("expected distinct retained doc names [a.pdf b.pdf], got %v", matcher.lastDocs)
	}
	if len(result.Images) != 1 || result.Images[0].Path != "img1.png" {
		t.Fatalf("unexpected images: %+v", result.Images)
	}
}

func TestQueryResolvesCitationLinks(t *testing.T) {
	links := &stubLinks{urls: map[string]string{"a.pdf": "https://example.org/a.pdf"}}
	engine := &scriptedEngine{
		ready: true,
		outcomes: []scriptedOutcome{{
			generation: Generation{
				Answer: "answer",
				Passages: []Passage{
					{Text: "one", Score: 0.9, FileName: "a.pdf"},
					{Text: "two", Score: 0.8, FileName: "b.pdf"},
				},
			},
		}},
	}
	orch := newTestOrchestrator(t, engine, nil, links, []string{"model-a"}, Options{})

	result := orch.Query(context.Background(), "question")
	if result.Sources[0].URL != "https://example.org/a.pdf" {
		t.Fatalf("expected resolved URL, got %q", result.Sources[0].URL)
	}
	if result.Sources[1].URL != "" {
		t.Fatalf("expected empty URL for unknown document, got %q", result.Sources[1].URL)
	}
}

func TestIsQuotaError(t *testing.T) {
	quotaCases := []string{
		"insufficient quota for this request",
		"Rate Limit reached",
		"rpc error: RESOURCE EXHAUSTED",
		"unexpected status 429",
		"Too Many Requests",
		"daily limit exceeded",
	}
	for _, msg := range quotaCases {
		if !isQuotaError(errors.New(msg)) {
			t.Fatalf("expected %q to classify as quota error", msg)
		}
	}

	otherCases := []string{
		"connection refused",
		"context deadline exceeded",
		"invalid api key",
	}
	for _, msg := range otherCases {
		if isQuotaError(errors.New(msg)) {
			t.Fatalf("expected %q to not classify as quota error", msg)
		}
	}

	if isQuotaError(nil) {
		t.Fatal("nil error is not a quota error")
	}
}
