package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ScanChunksTable stores one row per chunk, partitioned by namespace.
const ScanChunksTable = "scan_chunks"

// EnsureScanSchema creates the pgvector extension, the chunk table and its
// indexes. dimension must match the embedding model.
func EnsureScanSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scan_chunks (
			id UUID PRIMARY KEY,
			namespace TEXT NOT NULL,
			chunk_index INT NOT NULL,
			page_number INT NOT NULL,
			confidence TEXT NOT NULL,
			source_name TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(namespace, page_number, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_scan_chunks_namespace ON scan_chunks(namespace, confidence)",
		"CREATE INDEX IF NOT EXISTS idx_scan_chunks_embedding ON scan_chunks USING hnsw (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// EnsureSQLiteScanSchema creates the chunk table for the embedded backend.
// Embeddings are stored as little-endian float32 blobs.
func EnsureSQLiteScanSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite database is nil")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_chunks (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page_number INTEGER NOT NULL,
			confidence TEXT NOT NULL,
			source_name TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		"CREATE INDEX IF NOT EXISTS idx_scan_chunks_namespace ON scan_chunks(namespace, confidence)",
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute sqlite schema statement: %w", err)
		}
	}
	return nil
}
