package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/astrolab/research-agent/imagestore"
)

const (
	defaultRelevanceThreshold = 0.3
	defaultExcerptLength      = 200
	defaultMaxImages          = 3
)

// User-facing messages for degraded results. Every failure surfaces as one
// of these, never as a raw error.
const (
	noIndexMessage = "No documents have been indexed yet. Upload a PDF document to get started."
	quotaMessage   = "All available models are temporarily rate limited. Please wait a moment and try again."
	unknownMessage = "I ran into an issue while searching the documents. Please try again or rephrase your question."
)

// ImageMatcher returns images associated with the given document names.
// *imagestore.Store satisfies it.
type ImageMatcher interface {
	Match(docNames []string, limit int) []imagestore.ImageRef
}

// LinkResolver resolves the origin URL for a cited document name.
// *docmeta.Store satisfies it.
type LinkResolver interface {
	URLFor(filename string) string
}

// Options tune the orchestrator's response policy.
type Options struct {
	RelevanceThreshold float64
	ExcerptLength      int
	MaxImages          int
	// OnDowngrade is called with the new roster index after each model
	// downgrade, so the caller can persist the current model. Notification
	// only; the orchestrator retries regardless.
	OnDowngrade func(modelIndex int)
}

// Orchestrator answers questions against the document index, walking a
// fallback roster of models when the current one hits a quota error.
//
// Not safe for concurrent use: the roster position is unguarded mutable
// state. Callers serialize access.
type Orchestrator struct {
	engine  Engine
	matcher ImageMatcher
	links   LinkResolver
	roster  []string
	opts    Options
	logger  *log.Logger

	modelIndex int
	exhausted  bool
}

func NewOrchestrator(engine Engine, matcher ImageMatcher, links LinkResolver, roster []string, opts Options, logger *log.Logger) (*Orchestrator, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("model roster cannot be empty")
	}
	if logger == nil {
		logger = log.Default()
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = defaultRelevanceThreshold
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = defaultExcerptLength
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = defaultMaxImages
	}

	return &Orchestrator{
		engine:  engine,
		matcher: matcher,
		links:   links,
		roster:  roster,
		opts:    opts,
		logger:  logger,
	}, nil
}

// CurrentModel returns the model the next attempt will use.
func (o *Orchestrator) CurrentModel() string {
	return o.roster[o.modelIndex]
}

// Reset returns the orchestrator to the primary model and clears the
// exhausted flag. Called after external reconfiguration such as re-ingestion.
func (o *Orchestrator) Reset() {
	o.modelIndex = 0
	o.exhausted = false
}

// Query answers one question. It never returns an error: every failure is
// converted into a degraded chat-style Result with empty sources and images.
func (o *Orchestrator) Query(ctx context.Context, question string) Result {
	if o.engine == nil || !o.engine.Ready(ctx) {
		return Result{Answer: noIndexMessage, Failure: FailureNoIndex}
	}
	if o.exhausted {
		return Result{Answer: quotaMessage, Failure: FailureQuotaExhausted}
	}

	for {
		model := o.roster[o.modelIndex]
		generation, err := o.engine.RetrieveAndGenerate(ctx, model, question)
		if err == nil {
			return o.assemble(model, generation)
		}

		if !isQuotaError(err) {
			o.logger.Printf("query failed on %s: %v", model, err)
			return Result{Answer: unknownMessage, Failure: FailureUnknown}
		}

		if o.modelIndex+1 < len(o.roster) {
			o.modelIndex++
			o.logger.Printf("quota hit on %s, falling back to %s: %v", model, o.roster[o.modelIndex], err)
			if o.opts.OnDowngrade != nil {
				o.opts.OnDowngrade(o.modelIndex)
			}
			continue
		}

		o.exhausted = true
		o.logger.Printf("quota hit on %s with no fallback left: %v", model, err)
		return Result{Answer: quotaMessage, Failure: FailureQuotaExhausted}
	}
}

func (o *Orchestrator) assemble(model string, generation Generation) Result {
	answer := strings.TrimSpace(generation.Answer)
	if answer == "" {
		// A degenerate empty completion is indistinguishable from having
		// nothing to answer from; treat it like an empty index.
		return Result{Answer: noIndexMessage, Failure: FailureNoIndex}
	}

	sources := make([]Source, 0, len(generation.Passages))
	docNames := make([]string, 0, len(generation.Passages))
	seenNames := make(map[string]struct{}, len(generation.Passages))

	for _, passage := range generation.Passages {
		if passage.Score < o.opts.RelevanceThreshold {
			continue
		}

		source := Source{
			Excerpt:  truncateExcerpt(passage.Text, o.opts.ExcerptLength),
			Score:    passage.Score,
			FileName: passage.FileName,
			Title:    passage.Title,
			Page:     passage.Page,
		}
		if o.links != nil && passage.FileName != "" {
			source.URL = o.links.URLFor(passage.FileName)
		}
		sources = append(sources, source)

		if passage.FileName == "" {
			continue
		}
		if _, seen := seenNames[passage.FileName]; !seen {
			seenNames[passage.FileName] = struct{}{}
			docNames = append(docNames, passage.FileName)
		}
	}

	var images []imagestore.ImageRef
	if o.matcher != nil && len(docNames) > 0 {
		images = o.matcher.Match(docNames, o.opts.MaxImages)
	}

	return Result{
		Answer:  answer,
		Sources: sources,
		Images:  images,
		Model:   model,
	}
}

func truncateExcerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// quotaIndicators are the message fragments the LLM providers use for
// rate/usage-limit failures. Substring matching is fragile but the provider
// errors carry no structured code we can rely on across providers.
var quotaIndicators = []string{
	"quota",
	"rate limit",
	"resource exhausted",
	"429",
	"too many requests",
	"limit exceeded",
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range quotaIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
