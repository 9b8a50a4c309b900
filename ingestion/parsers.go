package ingestion

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ParsedChunk is one indexable unit of text. Page is zero for formats
// without page structure.
type ParsedChunk struct {
	Text string
	Page int
}

type ParsedDocument struct {
	Title  string
	Chunks []ParsedChunk
	Topics []string
}

// Parse extracts text from a document and splits it into chunks. Supported
// formats: .pdf, .md, .markdown, .txt.
func Parse(path string, data []byte) (*ParsedDocument, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path, data)
	case ".md", ".markdown":
		return parseMarkdown(path, data)
	case ".txt":
		return parsePlainText(path, data)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", filepath.Ext(path))
	}
}

func parsePDF(path string, data []byte) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	title := ""
	chunks := make([]ParsedChunk, 0)

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}

		text = normalizePlainText(text)
		if strings.TrimSpace(text) == "" {
			continue
		}

		if title == "" {
			title = firstNonEmptyLine(text)
		}

		for _, chunk := range chunkText(text, defaultChunkSize, defaultChunkOverlap) {
			chunks = append(chunks, ParsedChunk{Text: chunk, Page: pageNum})
		}
	}

	if title == "" {
		title = stemOf(path)
	}

	return &ParsedDocument{Title: title, Chunks: chunks}, nil
}

func parseMarkdown(path string, data []byte) (*ParsedDocument, error) {
	content := string(data)
	title := extractMarkdownTitle(content, filepath.Base(path))

	chunks := make([]ParsedChunk, 0)
	for _, chunk := range chunkText(content, defaultChunkSize, defaultChunkOverlap) {
		chunks = append(chunks, ParsedChunk{Text: chunk})
	}

	return &ParsedDocument{
		Title:  title,
		Chunks: chunks,
		Topics: markdownHeadings(content),
	}, nil
}

func parsePlainText(path string, data []byte) (*ParsedDocument, error) {
	content := normalizePlainText(string(data))

	title := firstNonEmptyLine(content)
	if title == "" {
		title = stemOf(path)
	}

	chunks := make([]ParsedChunk, 0)
	for _, chunk := range chunkText(content, defaultChunkSize, defaultChunkOverlap) {
		chunks = append(chunks, ParsedChunk{Text: chunk})
	}

	return &ParsedDocument{Title: title, Chunks: chunks}, nil
}

func extractMarkdownTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return strings.TrimSuffix(fallback, filepath.Ext(fallback))
}

// markdownHeadings returns second-level headings, used as document topics in
// the knowledge graph.
func markdownHeadings(content string) []string {
	headings := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			if heading := strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")); heading != "" {
				headings = append(headings, heading)
			}
		}
	}
	return headings
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
