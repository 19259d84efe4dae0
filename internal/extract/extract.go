// Package extract converts recognized document formats into plain text
// plus optional structured data for rule matching.
//
// Dispatch is by lowercased file extension. Unrecognized extensions
// are treated as plaintext so arbitrary notes still index.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Result is the output of an extractor.
type Result struct {
	// Text is the extracted body text.
	Text string
	// Frontmatter is the parsed YAML frontmatter mapping, if any.
	Frontmatter map[string]any
	// Data is the parsed structured body (e.g. a JSON object), if any.
	Data map[string]any
}

// utf8BOM is stripped from textual inputs before any parsing.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// Extract reads path and extracts text according to its extension.
func Extract(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".pdf":
		return extractPDF(ctx, path)
	case ".docx":
		return extractDOCX(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ExtractBytes(ext, data)
}

// ExtractBytes extracts text from in-memory content for formats that do
// not need file access.
func ExtractBytes(ext string, data []byte) (*Result, error) {
	data = stripBOM(data)

	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return extractMarkdown(data)
	case ".json":
		return extractJSON(data)
	case ".html", ".htm":
		return extractHTML(data)
	case ".txt", ".text":
		return &Result{Text: string(data)}, nil
	default:
		return &Result{Text: string(data)}, nil
	}
}
