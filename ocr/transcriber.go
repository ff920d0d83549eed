package ocr

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/ingestion"
	"github.com/fabfab/scanqa/llm"
)

const (
	defaultConcurrency = 4
	defaultPageTimeout = 2 * time.Minute
)

// Transcriber turns page images into confidence-labelled pages. A page whose
// transcription fails is returned empty and low confidence rather than
// failing the document.
type Transcriber struct {
	client      llm.Client
	threshold   int
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *log.Logger
}

type Option func(*Transcriber)

func WithUnclearThreshold(n int) Option {
	return func(t *Transcriber) {
		if n >= 0 {
			t.threshold = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(t *Transcriber) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

func WithPageTimeout(d time.Duration) Option {
	return func(t *Transcriber) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRequestsPerSecond caps calls to the vision model. Zero or less
// disables the limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(t *Transcriber) {
		if rps <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(t *Transcriber) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func New(client llm.Client, opts ...Option) *Transcriber {
	t := &Transcriber{
		client:      client,
		threshold:   DefaultUnclearThreshold,
		concurrency: defaultConcurrency,
		timeout:     defaultPageTimeout,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TranscribeAll transcribes pages in parallel and returns them in input
// order. Only cancellation of ctx is reported as an error.
func (t *Transcriber) TranscribeAll(ctx context.Context, documentID, sourceName string, pages []ingestion.PageImage) ([]document.Page, error) {
	if t.client == nil {
		return nil, fmt.Errorf("transcription client is not configured")
	}

	out := make([]document.Page, len(pages))
	var g errgroup.Group
	g.SetLimit(t.concurrency)

	for i, img := range pages {
		g.Go(func() error {
			out[i] = t.TranscribePage(ctx, documentID, sourceName, img)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TranscribePage transcribes one page image. It never returns an error.
func (t *Transcriber) TranscribePage(ctx context.Context, documentID, sourceName string, img ingestion.PageImage) document.Page {
	page := document.Page{
		PageNumber: img.Number,
		DocumentID: documentID,
		SourceName: sourceName,
		Confidence: document.Low,
	}

	text, err := t.transcribe(ctx, img)
	if err != nil {
		t.logger.Printf("page %d of %s: %v", img.Number, sourceName, err)
		return page
	}

	page.Text = text
	page.Confidence, page.UnclearCount = ScoreConfidence(text, t.threshold)
	return page
}

func (t *Transcriber) transcribe(ctx context.Context, img ingestion.PageImage) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: wait for rate limiter: %w", document.ErrTranscription, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.client.Generate(callCtx, []llm.Message{{
		Role:    llm.RoleUser,
		Content: Prompt,
		Images:  []llm.Image{{Data: img.Data, MIMEType: img.MIMEType}},
	}})
	if err != nil {
		return "", fmt.Errorf("%w: %w", document.ErrTranscription, err)
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", document.ErrTranscription)
	}
	return text, nil
}
