package chunker

import (
	"strings"

	"github.com/pustakaid/pustaka-rag/internal/extract"
)

// Chunk is one window of document text with page back-references for
// citation. SeqIndex values are contiguous starting at 0. Marker carries the
// structural marker of the span contributing most of the chunk's text.
type Chunk struct {
	SeqIndex  int
	Text      string
	CharStart int
	CharEnd   int
	PageStart int
	PageEnd   int
	Marker    extract.Marker
}

// Chunker splits extracted spans into overlapping windows, preferring
// paragraph and sentence boundaries before falling back to hard cuts.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

type pageRange struct {
	start, end, page int
	marker           extract.Marker
}

// Chunk produces the ordered chunk list for a document's spans. Spans with no
// text (image-only pages) contribute nothing but their pages stay citable
// through neighbouring chunks. Adjacent chunks with identical normalized text
// are collapsed into one chunk covering the union of their page spans.
func (c *Chunker) Chunk(spans []extract.Span) []Chunk {
	var b strings.Builder
	var ranges []pageRange
	for _, s := range spans {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(text)
		ranges = append(ranges, pageRange{start: start, end: b.Len(), page: s.Page, marker: s.Marker})
	}
	text := b.String()
	if text == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.splitPoint(text, start, end)
		}

		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			chunks = append(chunks, Chunk{
				SeqIndex:  len(chunks),
				Text:      piece,
				CharStart: start,
				CharEnd:   end,
				PageStart: pageFor(ranges, start),
				PageEnd:   pageFor(ranges, end-1),
				Marker:    markerFor(ranges, start, end),
			})
		}

		if end == len(text) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return reindex(collapseAdjacent(chunks))
}

// splitPoint finds a natural boundary in the second half of the window so
// that overlapping windows still make forward progress.
func (c *Chunker) splitPoint(text string, start, end int) int {
	lo := start + c.size/2
	if lo >= end {
		return end
	}
	window := text[lo:end]
	for _, sep := range []string{"\n\n", ". ", ".\n", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			return lo + idx + len(sep)
		}
	}
	return end
}

// markerFor picks the marker of the span overlapping the window the most.
func markerFor(ranges []pageRange, start, end int) extract.Marker {
	best := extract.MarkerNone
	bestLen := 0
	for _, r := range ranges {
		lo, hi := r.start, r.end
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		if hi-lo > bestLen {
			bestLen = hi - lo
			best = r.marker
		}
	}
	return best
}

func pageFor(ranges []pageRange, pos int) int {
	page := 0
	for _, r := range ranges {
		if pos >= r.start {
			page = r.page
		}
		if pos < r.end {
			break
		}
	}
	return page
}

// collapseAdjacent merges neighbouring chunks whose normalized text is
// identical (repeated headers and boilerplate). The merged chunk keeps the
// union of page spans so no page range loses its only source.
func collapseAdjacent(chunks []Chunk) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	out := chunks[:1]
	prevNorm := normalize(chunks[0].Text)
	for _, ch := range chunks[1:] {
		norm := normalize(ch.Text)
		if norm == prevNorm {
			last := &out[len(out)-1]
			if ch.PageStart < last.PageStart {
				last.PageStart = ch.PageStart
			}
			if ch.PageEnd > last.PageEnd {
				last.PageEnd = ch.PageEnd
			}
			if ch.CharEnd > last.CharEnd {
				last.CharEnd = ch.CharEnd
			}
			continue
		}
		out = append(out, ch)
		prevNorm = norm
	}
	return out
}

func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].SeqIndex = i
	}
	return chunks
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
