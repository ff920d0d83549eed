// Package pipeline owns the lifecycle of one scanned document: ingest it once,
// then answer questions against its namespace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/scanqa/chat"
	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/ingestion"
	"github.com/fabfab/scanqa/knowledge"
)

type State int

const (
	Uninitialized State = iota
	Ingesting
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ingesting:
		return "ingesting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transcriber turns page images into labelled pages.
type Transcriber interface {
	TranscribeAll(ctx context.Context, documentID, sourceName string, pages []ingestion.PageImage) ([]document.Page, error)
}

// Indexer stores chunks under their document namespace.
type Indexer interface {
	Build(ctx context.Context, chunks []document.Chunk) error
	Clear(ctx context.Context, namespace string) error
}

// Asker answers a question against one namespace.
type Asker interface {
	Ask(ctx context.Context, namespace, question string) (chat.Answer, error)
}

// GraphSink receives provenance after a successful build and reports it
// back. Optional.
type GraphSink interface {
	Sync(ctx context.Context, doc knowledge.Document) error
	Delete(ctx context.Context, documentID string) error
	Summary(ctx context.Context, documentID string) (knowledge.Summary, error)
}

// Deps are the capabilities a Controller is built from.
type Deps struct {
	Source      ingestion.PageSource
	Transcriber Transcriber
	Splitter    *ingestion.Splitter
	Index       Indexer
	Chat        Asker
	Graph       GraphSink
	Logger      *log.Logger
}

// Stats describes the last successful ingestion.
type Stats struct {
	Pages              int
	LowConfidencePages int
	Chunks             int
	IngestedAt         time.Time
}

type Option func(*Controller)

// WithVerbose logs one line per transcribed page.
func WithVerbose(v bool) Option {
	return func(c *Controller) { c.verbose = v }
}

type Controller struct {
	path       string
	documentID string
	sourceName string
	deps       Deps
	logger     *log.Logger
	verbose    bool

	mu    sync.RWMutex
	state State
	stats Stats
}

func New(path string, deps Deps, opts ...Option) (*Controller, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: document path is required", document.ErrInvalidInput)
	}
	if deps.Source == nil || deps.Transcriber == nil || deps.Index == nil || deps.Chat == nil {
		return nil, fmt.Errorf("pipeline dependencies are incomplete")
	}
	if deps.Splitter == nil {
		deps.Splitter = ingestion.NewSplitter()
	}

	id, err := document.NewID(path)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		path:       path,
		documentID: id,
		sourceName: filepath.Base(path),
		deps:       deps,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) DocumentID() string { return c.documentID }

func (c *Controller) SourceName() string { return c.sourceName }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Initialize ingests the document and makes it queryable. Calling it again
// after success re-ingests and replaces the document's index contents.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Ingesting {
		c.mu.Unlock()
		return document.ErrIngestionInProgress
	}
	c.state = Ingesting
	c.mu.Unlock()

	stats, err := c.ingest(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Uninitialized
		return err
	}
	c.stats = stats
	c.state = Ready
	return nil
}

func (c *Controller) ingest(ctx context.Context) (Stats, error) {
	start := time.Now()
	c.logger.Printf("converting %s to page images", c.sourceName)

	images, err := c.deps.Source.Pages(ctx, c.path)
	if err != nil {
		if errors.Is(err, document.ErrIngestion) || ctx.Err() != nil {
			return Stats{}, err
		}
		return Stats{}, fmt.Errorf("%w: %w", document.ErrIngestion, err)
	}
	if len(images) == 0 {
		return Stats{}, fmt.Errorf("%w: %s has no pages", document.ErrIngestion, c.sourceName)
	}

	c.logger.Printf("transcribing %d pages of %s", len(images), c.sourceName)
	pages, err := c.deps.Transcriber.TranscribeAll(ctx, c.documentID, c.sourceName, images)
	if err != nil {
		return Stats{}, fmt.Errorf("transcribe pages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Pages: len(pages)}
	for _, p := range pages {
		if p.Confidence == document.Low {
			stats.LowConfidencePages++
		}
		if c.verbose {
			c.logger.Printf("page %d: %s confidence, %d unclear markers, %d characters", p.PageNumber, p.Confidence, p.UnclearCount, len(p.Text))
		}
	}

	chunks := c.deps.Splitter.SplitPages(pages)
	stats.Chunks = len(chunks)

	if len(chunks) == 0 {
		c.logger.Printf("no text extracted from %s; clearing its index", c.sourceName)
		if err := c.deps.Index.Clear(ctx, c.documentID); err != nil {
			return Stats{}, err
		}
	} else if err := c.deps.Index.Build(ctx, chunks); err != nil {
		return Stats{}, err
	}

	if c.deps.Graph != nil {
		if err := c.deps.Graph.Sync(ctx, knowledge.FromPages(c.documentID, c.sourceName, pages, chunks)); err != nil {
			c.logger.Printf("provenance graph sync failed: %v", err)
		}
	}

	stats.IngestedAt = time.Now()
	c.logger.Printf("ingested %s: %d pages (%d low confidence), %d chunks in %s",
		c.sourceName, stats.Pages, stats.LowConfidencePages, stats.Chunks, time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// Provenance reads the document's page and chunk counts back from the graph.
// ok is false when no graph is configured.
func (c *Controller) Provenance(ctx context.Context) (summary knowledge.Summary, ok bool, err error) {
	if c.deps.Graph == nil {
		return knowledge.Summary{}, false, nil
	}
	summary, err = c.deps.Graph.Summary(ctx, c.documentID)
	if err != nil {
		return knowledge.Summary{}, true, fmt.Errorf("read provenance: %w", err)
	}
	return summary, true, nil
}

// Ask answers a question about the ingested document.
func (c *Controller) Ask(ctx context.Context, question string) (chat.Answer, error) {
	if c.State() != Ready {
		return chat.Answer{}, document.ErrNotReady
	}
	if strings.TrimSpace(question) == "" {
		return chat.Answer{}, fmt.Errorf("%w: question cannot be empty", document.ErrInvalidInput)
	}
	return c.deps.Chat.Ask(ctx, c.documentID, question)
}

// Clear removes the document from the index and the provenance graph.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Ingesting {
		c.mu.Unlock()
		return document.ErrIngestionInProgress
	}
	c.state = Uninitialized
	c.stats = Stats{}
	c.mu.Unlock()

	if err := c.deps.Index.Clear(ctx, c.documentID); err != nil {
		return err
	}
	if c.deps.Graph != nil {
		if err := c.deps.Graph.Delete(ctx, c.documentID); err != nil {
			c.logger.Printf("provenance graph delete failed: %v", err)
		}
	}
	c.logger.Printf("cleared %s (%s)", c.sourceName, c.documentID)
	return nil
}
