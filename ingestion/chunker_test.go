package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/scanqa/document"
)

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	s := NewSplitter()
	text := "Invoice #123\nTotal: $45.00"

	chunks := s.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitBlankTextHasNoChunks(t *testing.T) {
	s := NewSplitter()
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split(" \n\n\t "))
}

func TestSplitHardCutsWithoutSeparators(t *testing.T) {
	s := NewSplitter(WithChunkSize(10), WithChunkOverlap(3))
	text := strings.Repeat("abcdefghij", 4)

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
	assertOverlapAndReconstruct(t, text, chunks, 3)
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	s := NewSplitter(WithChunkSize(60), WithChunkOverlap(10))
	para := strings.Repeat("word ", 8)
	text := para + "\n\n" + para + "\n\n" + para

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], "\n\n"), "first chunk should end on the paragraph break: %q", chunks[0])
	assertOverlapAndReconstruct(t, text, chunks, 10)
}

func TestSplitOverlapHoldsForLongText(t *testing.T) {
	s := NewSplitter()
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("Line item ")
		b.WriteString(strings.Repeat("x", i%17))
		b.WriteString(". Amount due is listed below.\n")
		if i%9 == 0 {
			b.WriteString("\n")
		}
	}
	text := b.String()

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), DefaultChunkSize)
	}
	assertOverlapAndReconstruct(t, text, chunks, DefaultChunkOverlap)
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	s := NewSplitter(WithChunkSize(10), WithChunkOverlap(2))
	text := strings.Repeat("é", 25)

	chunks := s.Split(text)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
	assertOverlapAndReconstruct(t, text, chunks, 2)
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(100), WithChunkOverlap(100))
	assert.Equal(t, 25, s.Overlap)

	s = NewSplitter(WithChunkSize(0), WithChunkOverlap(-1))
	assert.Equal(t, DefaultChunkSize, s.Size)
	assert.Equal(t, 0, s.Overlap)
}

func TestSplitPagesNeverCrossesPages(t *testing.T) {
	s := NewSplitter(WithChunkSize(40), WithChunkOverlap(5))
	pages := []document.Page{
		{PageNumber: 1, DocumentID: "doc", SourceName: "scan.pdf", Confidence: document.High, Text: strings.Repeat("alpha ", 20)},
		{PageNumber: 2, DocumentID: "doc", SourceName: "scan.pdf", Confidence: document.Low, Text: ""},
		{PageNumber: 3, DocumentID: "doc", SourceName: "scan.pdf", Confidence: document.High, Text: "Total: $45.00"},
	}

	chunks := s.SplitPages(pages)
	require.NotEmpty(t, chunks)

	perPage := map[int]int{}
	for _, c := range chunks {
		perPage[c.PageNumber]++
		assert.Equal(t, "doc", c.DocumentID)
		assert.Equal(t, "scan.pdf", c.SourceName)
		assert.Equal(t, document.ChunkID("doc", c.PageNumber, c.Index), c.ID)
		if c.PageNumber == 1 {
			assert.NotContains(t, c.Text, "Total")
		}
	}
	assert.Greater(t, perPage[1], 1)
	assert.Zero(t, perPage[2])
	assert.Equal(t, 1, perPage[3])

	last := chunks[len(chunks)-1]
	assert.Equal(t, "Total: $45.00", last.Text)
	assert.Equal(t, document.High, last.Confidence)
	assert.Equal(t, 0, last.Index)
}

func TestSplitPagesAtLeastOneChunkPerNonEmptyPage(t *testing.T) {
	s := NewSplitter()
	pages := make([]document.Page, 0, 5)
	for i := 1; i <= 5; i++ {
		pages = append(pages, document.Page{PageNumber: i, DocumentID: "doc", Text: strings.Repeat("text ", i*60)})
	}
	assert.GreaterOrEqual(t, len(s.SplitPages(pages)), len(pages))
}

func assertOverlapAndReconstruct(t *testing.T, text string, chunks []string, overlap int) {
	t.Helper()
	var rebuilt []rune
	for i, c := range chunks {
		runes := []rune(c)
		if i == 0 {
			rebuilt = append(rebuilt, runes...)
			continue
		}
		prev := []rune(chunks[i-1])
		require.GreaterOrEqual(t, len(prev), overlap)
		require.GreaterOrEqual(t, len(runes), overlap)
		assert.Equal(t, string(prev[len(prev)-overlap:]), string(runes[:overlap]), "chunk %d should start with the tail of chunk %d", i, i-1)
		rebuilt = append(rebuilt, runes[overlap:]...)
	}
	assert.Equal(t, text, string(rebuilt))
}
