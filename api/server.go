// Package api exposes the HTTP surface: the chat endpoint, ingestion and
// image registration, and a minimal embedded web UI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/astrolab/research-agent/chat"
	"github.com/astrolab/research-agent/config"
	"github.com/astrolab/research-agent/imagestore"
	"github.com/astrolab/research-agent/multimodal"
)

// QueryService is what the chat endpoint needs from the orchestrator.
type QueryService interface {
	Query(ctx context.Context, question string) chat.Result
	Reset()
	CurrentModel() string
}

// Ingestor indexes documents on demand.
type Ingestor interface {
	IngestDirectory(ctx context.Context, dir string) error
	IngestFile(ctx context.Context, root, path, url string) error
}

// Deps carries the long-lived collaborators the server drives. The query
// service keeps fallback state across requests, so the server owns exactly
// one and serializes access to it.
type Deps struct {
	Query     QueryService
	Ingest    Ingestor
	Images    *imagestore.Store
	Describer multimodal.Describer
	// Clear wipes all indexed data; wired by the caller since it spans
	// Postgres, Neo4j, and the JSON stores.
	Clear func(ctx context.Context) error
}

type Server struct {
	cfg     config.Config
	logger  *log.Logger
	deps    Deps
	handler http.Handler

	// Serializes orchestrator access; the fallback position is unguarded
	// mutable state and net/http handlers run concurrently.
	mu sync.Mutex
}

func New(cfg config.Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/images", s.handleRegisterImages)
	mux.HandleFunc("/v1/clear", s.handleClear)
	mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.cfg.ImageDir))))
	return mux
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer  string         `json:"answer"`
	Model   string         `json:"model,omitempty"`
	Failure string         `json:"failure,omitempty"`
	Sources []sourcePayload `json:"sources"`
	Images  []imagePayload  `json:"images"`
}

type sourcePayload struct {
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
	FileName string  `json:"fileName"`
	Title    string  `json:"title,omitempty"`
	Page     int     `json:"page,omitempty"`
	URL      string  `json:"url,omitempty"`
}

type imagePayload struct {
	Path        string `json:"path"`
	SourcePDF   string `json:"sourcePdf"`
	Page        int    `json:"page"`
	Description string `json:"description,omitempty"`
}

type ingestRequest struct {
	Dir  string `json:"dir"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

type registerImagesRequest struct {
	Images   []imageRecord `json:"images"`
	Describe bool          `json:"describe"`
}

type imageRecord struct {
	Path        string `json:"path"`
	SourcePDF   string `json:"source_pdf"`
	Page        int    `json:"page"`
	Description string `json:"description"`
	Context     string `json:"context"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	s.mu.Lock()
	result := s.deps.Query.Query(r.Context(), req.Question)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, transformResult(result))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx := r.Context()

	if path := strings.TrimSpace(req.Path); path != "" {
		if err := s.deps.Ingest.IngestFile(ctx, filepath.Dir(path), path, strings.TrimSpace(req.URL)); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingest file: %w", err))
			return
		}
	} else {
		dir := strings.TrimSpace(req.Dir)
		if dir == "" {
			dir = s.cfg.DataDir
		}
		if err := s.deps.Ingest.IngestDirectory(ctx, dir); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
			return
		}
	}

	// The index changed; start the next query from the primary model again.
	s.mu.Lock()
	s.deps.Query.Reset()
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ingestion complete"})
}

func (s *Server) handleRegisterImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req registerImagesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if len(req.Images) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("images are required"))
		return
	}

	refs := make([]imagestore.ImageRef, 0, len(req.Images))
	for _, img := range req.Images {
		if img.Path == "" || img.SourcePDF == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("image path and source_pdf are required"))
			return
		}
		refs = append(refs, imagestore.ImageRef{
			Path:        img.Path,
			SourcePDF:   img.SourcePDF,
			Page:        img.Page,
			Description: img.Description,
			Context:     img.Context,
		})
	}

	var describer multimodal.Describer
	if req.Describe {
		describer = s.deps.Describer
	}

	if err := multimodal.Register(r.Context(), s.deps.Images, refs, describer, s.logger); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("register images: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("registered %d images", len(refs))})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	if s.deps.Clear != nil {
		if err := s.deps.Clear(r.Context()); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear data: %w", err))
			return
		}
	}

	s.mu.Lock()
	s.deps.Query.Reset()
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "indexed data cleared"})
}

func transformResult(result chat.Result) chatResponse {
	resp := chatResponse{
		Answer:  result.Answer,
		Model:   result.Model,
		Failure: string(result.Failure),
		Sources: make([]sourcePayload, 0, len(result.Sources)),
		Images:  make([]imagePayload, 0, len(result.Images)),
	}

	for _, source := range result.Sources {
		resp.Sources = append(resp.Sources, sourcePayload{
			Excerpt:  source.Excerpt,
			Score:    source.Score,
			FileName: source.FileName,
			Title:    source.Title,
			Page:     source.Page,
			URL:      source.URL,
		})
	}

	for _, image := range result.Images {
		resp.Images = append(resp.Images, imagePayload{
			Path:        image.Path,
			SourcePDF:   image.SourcePDF,
			Page:        image.Page,
			Description: image.Description,
		})
	}

	return resp
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
