package ingestion

import (
	"strings"
	"testing"
)

func TestParseMarkdownExtractsTitleAndTopics(t *testing.T) {
	content := strings.Join([]string{
		"# Lunar Regolith Survey",
		"",
		"Intro paragraph about regolith composition.",
		"",
		"## Sampling Methods",
		"",
		"Details about core sampling.",
		"",
		"## Mineral Analysis",
		"",
		"Spectrometer results.",
	}, "\n")

	doc, err := Parse("survey.md", []byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "Lunar Regolith Survey" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
	if len(doc.Topics) != 2 || doc.Topics[0] != "Sampling Methods" || doc.Topics[1] != "Mineral Analysis" {
		t.Fatalf("unexpected topics: %v", doc.Topics)
	}
	if len(doc.Chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestParseMarkdownTitleFallsBackToFilename(t *testing.T) {
	doc, err := Parse("notes/observations.md", []byte("no heading here"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "observations" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
}

func TestParsePlainText(t *testing.T) {
	content := "Mission Overview\r\n\r\nThe mission launched in 2031.\r\n"

	doc, err := Parse("mission.txt", []byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Mission Overview" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
	if len(doc.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(doc.Chunks))
	}
	if doc.Chunks[0].Page != 0 {
		t.Fatalf("plain text has no pages, got %d", doc.Chunks[0].Page)
	}
	if strings.Contains(doc.Chunks[0].Text, "\r") {
		t.Fatal("line endings should be normalized")
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	if _, err := Parse("image.png", []byte{0x89, 0x50}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseCorruptPDF(t *testing.T) {
	if _, err := Parse("broken.pdf", []byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
}
