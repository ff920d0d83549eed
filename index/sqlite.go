package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/fabfab/scanqa/database"
	"github.com/fabfab/scanqa/document"
)

// SQLiteStore keeps entries in a local SQLite file. Filtering happens in SQL;
// cosine ranking happens in Go over the namespace's matching rows.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore ensures the schema exists on db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := database.EnsureSQLiteScanSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Replace(ctx context.Context, namespace string, entries []Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM scan_chunks WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("clear namespace: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_chunks (id, namespace, chunk_index, page_number, confidence, source_name, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		c := e.Chunk
		if _, err = stmt.ExecContext(ctx, c.ID, namespace, c.Index, c.PageNumber, string(c.Confidence), c.SourceName, c.Text, encodeVector(e.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, namespace string, query []float32, filter Filter, limit int) ([]Candidate, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, chunk_index, page_number, confidence, source_name, content, embedding
		FROM scan_chunks WHERE namespace = ?`)
	args := []any{namespace}
	for _, p := range filter {
		col, val := column(p)
		sb.WriteString(" AND " + col + " = ?")
		args = append(args, val)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			e          Entry
			confidence string
			blob       []byte
		)
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.Index, &e.Chunk.PageNumber, &confidence, &e.Chunk.SourceName, &e.Chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		e.Chunk.DocumentID = namespace
		e.Chunk.Confidence = document.Confidence(confidence)
		e.Embedding = decodeVector(blob)
		candidates = append(candidates, Candidate{Entry: e, Score: CosineSimilarity(query, e.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return topCandidates(candidates, limit), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scan_chunks WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

var _ Store = (*SQLiteStore)(nil)
