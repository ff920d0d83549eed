package ingestion

import (
	"strings"

	"github.com/fabfab/scanqa/document"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 150
)

// separatorLevels are tried in order; the first level with a usable
// boundary inside the window wins. Sentence terminators share a level.
var separatorLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// Splitter cuts page text into overlapping chunks measured in runes.
// Consecutive chunks of a page share exactly Overlap runes, and a chunk
// never spans two pages.
type Splitter struct {
	Size    int
	Overlap int
}

type SplitterOption func(*Splitter)

func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) { s.Size = size }
}

func WithChunkOverlap(overlap int) SplitterOption {
	return func(s *Splitter) { s.Overlap = overlap }
}

func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.Size <= 0 {
		s.Size = DefaultChunkSize
	}
	if s.Overlap < 0 {
		s.Overlap = 0
	}
	if s.Overlap >= s.Size {
		s.Overlap = s.Size / 4
	}
	return s
}

// SplitPages chunks every page independently and carries page metadata
// onto each chunk. Pages with blank text produce no chunks.
func (s *Splitter) SplitPages(pages []document.Page) []document.Chunk {
	var chunks []document.Chunk
	for _, page := range pages {
		for i, text := range s.Split(page.Text) {
			chunks = append(chunks, document.Chunk{
				ID:         document.ChunkID(page.DocumentID, page.PageNumber, i),
				Text:       text,
				Index:      i,
				PageNumber: page.PageNumber,
				DocumentID: page.DocumentID,
				SourceName: page.SourceName,
				Confidence: page.Confidence,
			})
		}
	}
	return chunks
}

// Split returns the chunks of a single text. Text no longer than Size comes
// back as one chunk; otherwise each chunk ends at the latest boundary of the
// highest-priority separator that fits, falling back to a hard cut at Size.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.Size {
		return []string{text}
	}

	// Each chunk must advance past the overlap by a reasonable margin so an
	// early separator cannot produce a long run of near-duplicate chunks.
	minAdvance := (s.Size - s.Overlap) / 4
	if minAdvance < 1 {
		minAdvance = 1
	}

	var out []string
	start := 0
	for {
		if len(runes)-start <= s.Size {
			out = appendChunk(out, runes[start:])
			break
		}

		maxEnd := start + s.Size
		minEnd := start + s.Overlap + minAdvance
		end := s.boundary(runes, minEnd, maxEnd)
		out = appendChunk(out, runes[start:end])
		start = end - s.Overlap
	}
	return out
}

func (s *Splitter) boundary(runes []rune, minEnd, maxEnd int) int {
	for _, level := range separatorLevels {
		best := -1
		for _, sep := range level {
			if end := lastBoundary(runes, []rune(sep), minEnd, maxEnd); end > best {
				best = end
			}
		}
		if best > 0 {
			return best
		}
	}
	return maxEnd
}

// lastBoundary returns the largest end in [minEnd, maxEnd] such that
// runes[end-len(sep):end] equals sep, or -1.
func lastBoundary(runes, sep []rune, minEnd, maxEnd int) int {
	for end := maxEnd; end >= minEnd; end-- {
		begin := end - len(sep)
		if begin < 0 {
			break
		}
		if equalRunes(runes[begin:end], sep) {
			return end
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendChunk(out []string, runes []rune) []string {
	text := string(runes)
	if strings.TrimSpace(text) == "" {
		return out
	}
	return append(out, text)
}
