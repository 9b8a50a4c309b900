package docmeta

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".document_metadata.json")
	return NewStore(path, log.New(io.Discard, "", 0))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := testStore(t)
	if entries := store.Load(); len(entries) != 0 {
		t.Fatalf("expected empty store, got %d entries", len(entries))
	}
}

func TestLoadCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".document_metadata.json")
	if err := os.WriteFile(path, []byte("]["), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(path, log.New(io.Discard, "", 0))
	if entries := store.Load(); len(entries) != 0 {
		t.Fatalf("corrupt store should load as empty, got %d entries", len(entries))
	}
}

func TestAddDetectsDuplicates(t *testing.T) {
	store := testStore(t)

	hash := HashBytes([]byte("pdf content"))
	added, err := store.Add(hash, "mars-report.pdf", "https://example.org/mars.pdf")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("first add should succeed")
	}
	if !store.Has(hash) {
		t.Fatal("hash should be recorded")
	}

	added, err = store.Add(hash, "mars-report (copy).pdf", "https://example.org/other.pdf")
	if err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	if added {
		t.Fatal("duplicate hash must not be added")
	}

	// The original entry survives.
	if url := store.URLFor("mars-report.pdf"); url != "https://example.org/mars.pdf" {
		t.Fatalf("unexpected url: %q", url)
	}
}

func TestURLForUnknownDocument(t *testing.T) {
	store := testStore(t)
	if url := store.URLFor("nonexistent.pdf"); url != "" {
		t.Fatalf("expected empty url, got %q", url)
	}
}

func TestHashBytesIsStable(t *testing.T) {
	a := HashBytes([]byte("same content"))
	b := HashBytes([]byte("same content"))
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if a == HashBytes([]byte("different content")) {
		t.Fatal("different content must hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 length 64, got %d", len(a))
	}
}

func TestClearRemovesStore(t *testing.T) {
	store := testStore(t)
	if _, err := store.Add(HashBytes([]byte("x")), "x.pdf", ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if entries := store.Load(); len(entries) != 0 {
		t.Fatal("store should be empty after clear")
	}

	// Clearing an already-missing store is fine.
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
