package chat

import (
	"context"
	"log"

	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/index"
)

// Querier is the part of the index the retriever needs.
type Querier interface {
	Query(ctx context.Context, namespace, text string, opts index.QueryOptions) ([]document.Chunk, error)
}

// Retriever fetches high-confidence chunks of one document.
type Retriever struct {
	index  Querier
	opts   index.QueryOptions
	logger *log.Logger
}

func NewRetriever(ix Querier, opts index.QueryOptions, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	opts.Filter = index.Filter{index.Eq(index.FieldConfidence, document.High)}
	return &Retriever{index: ix, opts: opts, logger: logger}
}

func (r *Retriever) Retrieve(ctx context.Context, namespace, question string) ([]document.Chunk, error) {
	chunks, err := r.index.Query(ctx, namespace, question, r.opts)
	if err != nil {
		return nil, err
	}

	kept := chunks[:0]
	for _, c := range chunks {
		if c.Confidence != document.High {
			r.logger.Printf("discarding %s chunk %s from page %d", c.Confidence, c.ID, c.PageNumber)
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}
