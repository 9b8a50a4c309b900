// Package imagestore persists metadata for figures extracted from ingested
// PDFs and matches them back to the documents cited in an answer.
package imagestore

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ImageRef describes one extracted figure: where the file lives, which PDF
// and page it came from, and the text surrounding it at extraction time.
type ImageRef struct {
	Path        string `json:"path"`
	SourcePDF   string `json:"source_pdf"`
	Page        int    `json:"page"`
	Description string `json:"description"`
	Context     string `json:"context"`
}

// Store is a flat JSON array on disk, append-only and deduplicated by image
// path. Written at ingestion time, read at query time.
type Store struct {
	path   string
	logger *log.Logger
}

func NewStore(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads all image records. A missing store means no images have been
// extracted yet; malformed content degrades to empty with a warning rather
// than failing the query that triggered the read.
func (s *Store) Load() []ImageRef {
	file, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("open image store %s: %v", s.path, err)
		}
		return nil
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Printf("read image store %s: %v", s.path, err)
		return nil
	}

	var refs []ImageRef
	if err := json.Unmarshal(data, &refs); err != nil {
		s.logger.Printf("parse image store %s: %v", s.path, err)
		return nil
	}
	return refs
}

// Append adds new records, skipping any whose path is already present.
func (s *Store) Append(refs []ImageRef) error {
	if len(refs) == 0 {
		return nil
	}

	existing := s.Load()
	seen := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		seen[ref.Path] = struct{}{}
	}

	for _, ref := range refs {
		if _, dup := seen[ref.Path]; dup {
			continue
		}
		seen[ref.Path] = struct{}{}
		existing = append(existing, ref)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create image store directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal image store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write image store: %w", err)
	}
	return nil
}

// Match returns up to limit images whose source document matches one of the
// candidate display names. The comparison strips the record's extension and
// tests containment both ways, which tolerates the "(copy)" style suffixes
// upload handling introduces. First match wins, store order, no ranking.
func (s *Store) Match(docNames []string, limit int) []ImageRef {
	if len(docNames) == 0 || limit <= 0 {
		return nil
	}

	matched := make([]ImageRef, 0, limit)
	for _, ref := range s.Load() {
		if ref.SourcePDF == "" {
			continue
		}
		stem := strings.TrimSuffix(ref.SourcePDF, filepath.Ext(ref.SourcePDF))
		for _, name := range docNames {
			if name == "" {
				continue
			}
			if strings.Contains(name, stem) || strings.Contains(stem, name) {
				matched = append(matched, ref)
				break
			}
		}
		if len(matched) >= limit {
			break
		}
	}
	return matched
}

// Clear removes the store file. Missing file is fine.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image store: %w", err)
	}
	return nil
}
