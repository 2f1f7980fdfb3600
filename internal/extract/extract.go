package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned at submission time and never retried.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtraction indicates a corrupt or unreadable source file.
	ErrExtraction = errors.New("extraction failed")

	// ErrNoExtractableContent indicates a file that parsed fine but yielded
	// no text at all. Individual empty pages are not an error (pure-image
	// pages are common in scanned books); a wholly empty document is.
	ErrNoExtractableContent = errors.New("no extractable content")
)

// Format tags the extraction strategy for a source file. Dispatch goes
// through this tag instead of extension string checks scattered around.
type Format string

const (
	FormatPDF       Format = "pdf"
	FormatPlainText Format = "text"
	FormatCode      Format = "code"
)

// Marker flags structural features of a span, carried into chunk metadata.
type Marker string

const (
	MarkerNone  Marker = ""
	MarkerImage Marker = "image" // page rendered but produced no text
	MarkerCode  Marker = "code"  // span is a fenced code block
)

// Span is one ordered unit of extracted text with its source page.
type Span struct {
	Page   int // 1-based
	Text   string
	Marker Marker
}

// Extractor pulls ordered spans out of a source file. The context carries the
// per-attempt stage timeout; expiry or cancellation aborts the extraction.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Span, error)
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rb": true, ".rs": true, ".c": true, ".cpp": true, ".h": true,
	".sh": true, ".sql": true,
}

// DetectFormat maps a filename to its extraction format.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return FormatPDF, nil
	case ext == ".txt" || ext == ".md" || ext == ".markdown":
		return FormatPlainText, nil
	case codeExtensions[ext]:
		return FormatCode, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// ForFormat returns the extractor for a format tag.
func ForFormat(f Format) (Extractor, error) {
	switch f {
	case FormatPDF:
		return &PDFExtractor{}, nil
	case FormatPlainText:
		return &PlainTextExtractor{}, nil
	case FormatCode:
		return &CodeExtractor{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
}

// PlainTextExtractor reads the file as a single page of text.
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) Extract(ctx context.Context, path string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, ErrNoExtractableContent
	}
	return []Span{{Page: 1, Text: text}}, nil
}

// CodeExtractor reads a source code file as one fenced block.
type CodeExtractor struct{}

func (e *CodeExtractor) Extract(ctx context.Context, path string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoExtractableContent
	}
	return []Span{{Page: 1, Text: text, Marker: MarkerCode}}, nil
}
