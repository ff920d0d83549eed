// Package document defines the page, chunk and identity types shared by the
// ingestion, index and chat packages.
package document

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Confidence is a coarse reliability label attached to transcribed text.
type Confidence string

const (
	// High marks a page whose transcription contained few unreadable regions.
	High Confidence = "high"
	// Low marks a page that was mostly illegible or could not be transcribed.
	Low Confidence = "low"
)

// Valid reports whether c is one of the known labels.
func (c Confidence) Valid() bool {
	return c == High || c == Low
}

// Page is the transcription result for one page of a source document.
type Page struct {
	Text         string
	PageNumber   int
	DocumentID   string
	SourceName   string
	Confidence   Confidence
	UnclearCount int
}

// Chunk is a bounded slice of one page's text carrying the page metadata.
type Chunk struct {
	ID         string
	Text       string
	Index      int
	PageNumber int
	DocumentID string
	SourceName string
	Confidence Confidence
}

// idSpace scopes UUIDv5 document identifiers to this application.
var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fabfab/scanqa/documents"))

// NewID derives a stable document identifier from a source path. The path is
// made absolute and cleaned first so "./a.pdf" and "a.pdf" share an id.
func NewID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	return uuid.NewSHA1(idSpace, []byte(filepath.Clean(abs))).String(), nil
}

// ChunkID returns the deterministic identifier of the index-th chunk of a page.
func ChunkID(documentID string, page, index int) string {
	parent, err := uuid.Parse(documentID)
	if err != nil {
		parent = uuid.NewSHA1(idSpace, []byte(documentID))
	}
	return uuid.NewSHA1(parent, []byte(fmt.Sprintf("page:%d:chunk:%d", page, index))).String()
}
