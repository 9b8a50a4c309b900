// Package docmeta persists upload metadata for ingested documents: content
// hash, display filename, origin URL, and ingestion time. It backs duplicate
// detection at ingestion and citation-link resolution at query time.
package docmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

type Entry struct {
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Store is a flat JSON object on disk keyed by content hash. It is not safe
// for concurrent writers; callers serialize access.
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

// HashBytes returns the hex sha256 of the file content, used as the
// duplicate-detection key.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads the metadata file. A missing file is an empty store, not an
// error; a corrupt file degrades to empty with a warning.
func (s *Store) Load() map[string]Entry {
	file, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("open document metadata %s: %v", s.path, err)
		}
		return map[string]Entry{}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Printf("read document metadata %s: %v", s.path, err)
		return map[string]Entry{}
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Printf("parse document metadata %s: %v", s.path, err)
		return map[string]Entry{}
	}
	return entries
}

func (s *Store) Save(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write document metadata: %w", err)
	}
	return nil
}

// Add records a newly ingested document. Returns false without writing when
// the hash is already present.
func (s *Store) Add(hash, filename, url string) (bool, error) {
	entries := s.Load()
	if _, exists := entries[hash]; exists {
		return false, nil
	}

	entries[hash] = Entry{
		Filename:   filename,
		URL:        url,
		IngestedAt: time.Now().UTC(),
	}

	if err := s.Save(entries); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Has(hash string) bool {
	_, exists := s.Load()[hash]
	return exists
}

// URLFor resolves the origin URL for a document display name. Empty when the
// document is unknown or was ingested without a URL.
func (s *Store) URLFor(filename string) string {
	for _, entry := range s.Load() {
		if entry.Filename == filename {
			return entry.URL
		}
	}
	return ""
}

// Clear removes the metadata file. Missing file is fine.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document metadata: %w", err)
	}
	return nil
}
