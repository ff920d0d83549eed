package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/scanqa/document"
)

// PostgresStore keeps entries in the pgvector-backed scan_chunks table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Replace(ctx context.Context, namespace string, entries []Entry) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM scan_chunks WHERE namespace = $1", namespace); err != nil {
		return fmt.Errorf("clear namespace: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		c := e.Chunk
		batch.Queue(`
			INSERT INTO scan_chunks (id, namespace, chunk_index, page_number, confidence, source_name, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, namespace, c.Index, c.PageNumber, string(c.Confidence), c.SourceName, c.Text, pgvector.NewVector(e.Embedding))
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, namespace string, query []float32, filter Filter, limit int) ([]Candidate, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 12
	}

	var where strings.Builder
	where.WriteString("namespace = $2")
	args := []any{pgvector.NewVector(query), namespace}
	for _, p := range filter {
		col, val := column(p)
		args = append(args, val)
		fmt.Fprintf(&where, " AND %s = $%d", col, len(args))
	}
	args = append(args, limit)

	// The namespace and filter are applied in a materialized CTE so ranking is
	// an exact scan over matching rows. Ordering through the HNSW index would
	// filter after its ef_search-bounded scan and can return fewer than limit
	// rows when other namespaces or excluded rows sit closer to the query.
	stmt := fmt.Sprintf(`
		WITH scoped AS MATERIALIZED (
			SELECT id, chunk_index, page_number, confidence, source_name, content, embedding,
				(embedding <=> $1::vector) AS distance
			FROM scan_chunks
			WHERE %s
		)
		SELECT id::text, chunk_index, page_number, confidence, source_name, content, embedding, distance
		FROM scoped
		ORDER BY distance, page_number, chunk_index
		LIMIT $%d
	`, where.String(), len(args))

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			confidence string
			vec        pgvector.Vector
			distance   float64
		)
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.Index, &e.Chunk.PageNumber, &confidence, &e.Chunk.SourceName, &e.Chunk.Text, &vec, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		e.Chunk.DocumentID = namespace
		e.Chunk.Confidence = document.Confidence(confidence)
		e.Embedding = vec.Slice()
		candidates = append(candidates, Candidate{Entry: e, Score: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}
	return candidates, nil
}

func (s *PostgresStore) Delete(ctx context.Context, namespace string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM scan_chunks WHERE namespace = $1", namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
