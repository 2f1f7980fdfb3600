package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFExtractor extracts per-page text from a PDF using go-fitz.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open PDF: %v", ErrExtraction, err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, ErrNoExtractableContent
	}

	spans := make([]Span, 0, doc.NumPage())
	hasText := false
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(n)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrExtraction, n+1, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			// Likely a pure-image page; keep the marker so chunk metadata
			// can still reference it.
			spans = append(spans, Span{Page: n + 1, Marker: MarkerImage})
			continue
		}
		hasText = true
		spans = append(spans, Span{Page: n + 1, Text: text})
	}

	if !hasText {
		return nil, ErrNoExtractableContent
	}
	return spans, nil
}
