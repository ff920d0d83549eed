package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.OCR.UnclearThreshold)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, 6, cfg.Retrieval.K)
	assert.Equal(t, 12, cfg.Retrieval.FetchK)
	assert.InDelta(t, 0.6, cfg.Retrieval.Lambda, 1e-9)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanqa.yaml")
	data := []byte(`
vector_store:
  backend: sqlite
  sqlite_path: /tmp/x.db
ocr:
  provider: ollama
  model: llava
  unclear_threshold: 3
retrieval:
  k: 4
  fetch_k: 10
  lambda: 0.5
index_timeout: 5s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("RETRIEVAL_K", "2")
	t.Setenv("OCR_UNCLEAR_THRESHOLD", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.VectorStore.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.VectorStore.SQLitePath)
	assert.Equal(t, ProviderOllama, cfg.OCR.Provider)
	assert.Equal(t, "llava", cfg.OCR.Model)
	assert.Equal(t, 3, cfg.OCR.UnclearThreshold)
	assert.Equal(t, 2, cfg.Retrieval.K, "environment overrides the file")
	assert.Equal(t, 10, cfg.Retrieval.FetchK)
	assert.Equal(t, 5*time.Second, cfg.IndexTimeout)
}

func TestLoadFileMissingIsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.VectorStore.Backend)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg := Default()
	cfg.Chunking.Overlap = cfg.Chunking.Size
	cfg.Retrieval.FetchK = 1
	cfg.VectorStore.Backend = "pinecone"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk overlap")
	assert.Contains(t, err.Error(), "fetch_k")
	assert.Contains(t, err.Error(), "unknown vector backend")
}
