package main

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/scanqa/chat"
	"github.com/fabfab/scanqa/config"
	"github.com/fabfab/scanqa/database"
	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/embeddings"
	"github.com/fabfab/scanqa/index"
	"github.com/fabfab/scanqa/ingestion"
	"github.com/fabfab/scanqa/knowledge"
	"github.com/fabfab/scanqa/llm"
	"github.com/fabfab/scanqa/ocr"
	"github.com/fabfab/scanqa/pipeline"
)

// cleanup runs registered close functions in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openStore connects the configured vector backend.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger, closers *cleanup) (index.Store, error) {
	switch cfg.VectorStore.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		closers.add(pool.Close)
		if err := database.EnsureScanSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return index.NewPostgresStore(pool, logger), nil
	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.VectorStore.SQLitePath)
		if err != nil {
			return nil, err
		}
		closers.add(func() { _ = db.Close() })
		return index.NewSQLiteStore(ctx, db)
	case config.BackendMemory:
		logger.Printf("using in-memory vector store; the index is lost on exit")
		return index.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.VectorStore.Backend)
	}
}

// openGraph returns the provenance graph, or nil when it is disabled or
// unreachable. The graph is never required for answering.
func openGraph(ctx context.Context, cfg config.Config, logger *log.Logger, closers *cleanup) *knowledge.Graph {
	if !cfg.Neo4jEnabled {
		return nil
	}
	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Printf("neo4j unavailable, provenance graph disabled: %v", err)
		return nil
	}
	closers.add(func() { _ = driver.Close(context.Background()) })
	return knowledge.NewGraph(driver)
}

// buildController wires every capability for one document.
func buildController(ctx context.Context, cfg config.Config, path string, logger *log.Logger, verbose bool, closers *cleanup) (*pipeline.Controller, error) {
	vision, err := llm.NewVisionClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vision client setup: %w", err)
	}
	generator, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	store, err := openStore(ctx, cfg, logger, closers)
	if err != nil {
		return nil, err
	}

	ix := index.New(store, embedder,
		index.WithBatchSize(cfg.Embeddings.BatchSize),
		index.WithTimeout(cfg.IndexTimeout),
		index.WithLogger(logger),
	)

	deps := pipeline.Deps{
		Source: ingestion.NewAutoSource(cfg.OCR.DPI, logger),
		Transcriber: ocr.New(vision,
			ocr.WithUnclearThreshold(cfg.OCR.UnclearThreshold),
			ocr.WithConcurrency(cfg.OCR.Concurrency),
			ocr.WithRequestsPerSecond(cfg.OCR.RequestsPerSecond),
			ocr.WithPageTimeout(cfg.OCR.Timeout),
			ocr.WithLogger(logger),
		),
		Splitter: ingestion.NewSplitter(
			ingestion.WithChunkSize(cfg.Chunking.Size),
			ingestion.WithChunkOverlap(cfg.Chunking.Overlap),
		),
		Index: ix,
		Chat: chat.NewService(
			chat.NewRetriever(ix, index.QueryOptions{
				K:      cfg.Retrieval.K,
				FetchK: cfg.Retrieval.FetchK,
				Lambda: cfg.Retrieval.Lambda,
			}, logger),
			chat.NewAnswerer(generator, cfg.GenerationTimeout, logger),
			logger,
		),
		Logger: logger,
	}
	if graph := openGraph(ctx, cfg, logger, closers); graph != nil {
		deps.Graph = graph
	}

	return pipeline.New(path, deps, pipeline.WithVerbose(verbose))
}

// clearDocument removes a document without building model clients, so it
// works without API keys.
func clearDocument(ctx context.Context, cfg config.Config, path string, logger *log.Logger) error {
	var closers cleanup
	defer closers.run()

	id, err := document.NewID(path)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	if err := index.New(store, nil, index.WithTimeout(cfg.IndexTimeout), index.WithLogger(logger)).Clear(ctx, id); err != nil {
		return err
	}

	if graph := openGraph(ctx, cfg, logger, &closers); graph != nil {
		if err := graph.Delete(ctx, id); err != nil {
			logger.Printf("provenance graph delete failed: %v", err)
		}
	}
	logger.Printf("cleared %s (%s)", path, id)
	return nil
}
