// Package ingestion parses research documents, chunks and embeds them, and
// persists the results to the vector store and knowledge graph.
package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	stdpath "path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pgvector/pgvector-go"

	"github.com/astrolab/research-agent/database"
	"github.com/astrolab/research-agent/docmeta"
	"github.com/astrolab/research-agent/embeddings"
	"github.com/astrolab/research-agent/knowledge"
)

var supportedExtensions = map[string]struct{}{
	".pdf":      {},
	".md":       {},
	".markdown": {},
	".txt":      {},
}

type Service struct {
	pool      *pgxpool.Pool
	driver    neo4j.DriverWithContext
	embedder  embeddings.Embedder
	meta      *docmeta.Store
	logger    *log.Logger
	dimension int
}

func NewService(pool *pgxpool.Pool, driver neo4j.DriverWithContext, embedder embeddings.Embedder, meta *docmeta.Store, logger *log.Logger, dimension int) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		pool:      pool,
		driver:    driver,
		embedder:  embedder,
		meta:      meta,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDirectory indexes every supported document under dir. Individual
// document failures are logged and skipped so one bad file does not abort
// the run.
func (s *Service) IngestDirectory(ctx context.Context, dir string) error {
	if s.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}
	if err := database.EnsureSchema(ctx, s.pool, s.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	entries := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := supportedExtensions[ext]; ok {
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Printf("no supported documents found in %s", dir)
		return nil
	}

	for _, path := range entries {
		if err := s.IngestFile(ctx, dir, path, ""); err != nil {
			s.logger.Printf("ingest failed for %s: %v", path, err)
		}
	}

	return nil
}

// IngestFile indexes a single document. The optional url is recorded in the
// document metadata store and later used for citation links. Documents whose
// content hash is already known are skipped.
func (s *Service) IngestFile(ctx context.Context, root, path, url string) (err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	hash := docmeta.HashBytes(data)
	if s.meta != nil && s.meta.Has(hash) {
		s.logger.Printf("skip %s: already indexed", path)
		return nil
	}

	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)
	folder := stdpath.Dir(relPath)
	if folder == "." || folder == "/" {
		folder = ""
	}
	fileName := filepath.Base(path)

	parsed, err := Parse(path, data)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if len(parsed.Chunks) == 0 {
		s.logger.Printf("skip empty document %s", path)
		return nil
	}

	texts := make([]string, len(parsed.Chunks))
	for i, chunk := range parsed.Chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(parsed.Chunks) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(parsed.Chunks), len(vectors))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				s.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	docID, err := upsertDocument(ctx, tx, relPath, fileName, parsed.Title, hash)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks WHERE document_id = $1", docID); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	chunkNodes := make([]knowledge.Chunk, 0, len(parsed.Chunks))
	for idx, chunk := range parsed.Chunks {
		chunkID := uuid.New()
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, document_id, chunk_index, page, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, chunkID, docID, idx, chunk.Page, chunk.Text, pgvector.NewVector(vectors[idx])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", idx, err)
		}
		chunkNodes = append(chunkNodes, knowledge.Chunk{
			ID:    chunkID.String(),
			Index: idx,
			Page:  chunk.Page,
		})
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if s.driver != nil {
		topics := make([]knowledge.Topic, 0, len(parsed.Topics))
		for _, topic := range parsed.Topics {
			topics = append(topics, knowledge.Topic{Name: topic})
		}
		doc := knowledge.Document{
			ID:       docID.String(),
			Path:     relPath,
			FileName: fileName,
			Title:    parsed.Title,
			SHA:      hash,
			Folder:   folder,
			Chunks:   chunkNodes,
			Topics:   topics,
		}
		// Graph sync is enrichment; a graph outage should not fail ingestion.
		if graphErr := knowledge.SyncDocument(ctx, s.driver, doc); graphErr != nil {
			s.logger.Printf("graph sync failed for %s: %v", relPath, graphErr)
		}
	}

	if s.meta != nil {
		if _, metaErr := s.meta.Add(hash, fileName, url); metaErr != nil {
			s.logger.Printf("record document metadata for %s: %v", fileName, metaErr)
		}
	}

	s.logger.Printf("indexed %s (%d chunks)", relPath, len(parsed.Chunks))
	return nil
}

func upsertDocument(ctx context.Context, tx pgx.Tx, relPath, fileName, title, hash string) (uuid.UUID, error) {
	docID := uuid.New()
	if err := tx.QueryRow(ctx, `
		INSERT INTO rag_documents (id, source_path, file_name, title, sha256)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_path) DO UPDATE
		SET file_name = EXCLUDED.file_name,
		    title = EXCLUDED.title,
		    sha256 = EXCLUDED.sha256,
		    updated_at = NOW()
		RETURNING id
	`, docID, relPath, fileName, title, hash).Scan(&docID); err != nil {
		return uuid.Nil, fmt.Errorf("upsert document: %w", err)
	}
	return docID, nil
}
