package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	// ProviderHash selects the offline feature-hashing embedder.
	ProviderHash = "hash"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// ConfigPathEnv names the environment variable pointing at an optional YAML file.
const ConfigPathEnv = "SCANQA_CONFIG"

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type VectorStoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// OCRConfig controls page rasterization and transcription.
type OCRConfig struct {
	LLMConfig         `yaml:",inline"`
	UnclearThreshold  int           `yaml:"unclear_threshold"`
	DPI               int           `yaml:"dpi"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds the maximal-marginal-relevance search parameters.
type RetrievalConfig struct {
	K      int     `yaml:"k"`
	FetchK int     `yaml:"fetch_k"`
	Lambda float64 `yaml:"lambda"`
}

type Config struct {
	PostgresDSN  string `yaml:"postgres_dsn"`
	Neo4jURI     string `yaml:"neo4j_uri"`
	Neo4jUser    string `yaml:"neo4j_username"`
	Neo4jPass    string `yaml:"neo4j_password"`
	Neo4jEnabled bool   `yaml:"neo4j_enabled"`

	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaHost    string `yaml:"ollama_host"`

	LLM         LLMConfig         `yaml:"llm"`
	OCR         OCRConfig         `yaml:"ocr"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`

	IndexTimeout      time.Duration `yaml:"index_timeout"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	HTTPAddr          string        `yaml:"http_addr"`
}

// Default returns the configuration used when neither a file nor the
// environment override a value.
func Default() Config {
	return Config{
		PostgresDSN: "postgres://localhost:5432/scanqa?sslmode=disable",
		Neo4jURI:    "neo4j://localhost:7687",
		Neo4jUser:   "neo4j",
		Neo4jPass:   "password",
		OllamaHost:  "http://localhost:11434",
		LLM:         LLMConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
		OCR: OCRConfig{
			LLMConfig:         LLMConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			UnclearThreshold:  8,
			DPI:               300,
			Concurrency:       4,
			RequestsPerSecond: 2,
			Timeout:           2 * time.Minute,
		},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 64,
		},
		VectorStore:       VectorStoreConfig{Backend: BackendPostgres, SQLitePath: "scanqa.db"},
		Chunking:          ChunkingConfig{Size: 800, Overlap: 150},
		Retrieval:         RetrievalConfig{K: 6, FetchK: 12, Lambda: 0.6},
		IndexTimeout:      30 * time.Second,
		GenerationTimeout: 2 * time.Minute,
		HTTPAddr:          ":8080",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// SCANQA_CONFIG (if any) and the environment, in that order of precedence.
func Load() (Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file;
// a missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as confusing
// failures deep inside the pipeline.
func (c Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval k must be positive, got %d", c.Retrieval.K))
	}
	if c.Retrieval.FetchK < c.Retrieval.K {
		errs = append(errs, fmt.Errorf("retrieval fetch_k (%d) must be >= k (%d)", c.Retrieval.FetchK, c.Retrieval.K))
	}
	if c.Retrieval.Lambda < 0 || c.Retrieval.Lambda > 1 {
		errs = append(errs, fmt.Errorf("retrieval lambda must be within [0, 1], got %g", c.Retrieval.Lambda))
	}
	if c.OCR.UnclearThreshold < 0 {
		errs = append(errs, fmt.Errorf("ocr unclear threshold must not be negative, got %d", c.OCR.UnclearThreshold))
	}
	if c.OCR.DPI <= 0 {
		errs = append(errs, fmt.Errorf("ocr dpi must be positive, got %d", c.OCR.DPI))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension))
	}
	switch c.VectorStore.Backend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend: %s", c.VectorStore.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)
	cfg.Neo4jEnabled = getEnvBool("NEO4J_ENABLED", cfg.Neo4jEnabled)

	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)

	cfg.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.OCR.Provider = strings.ToLower(getEnv("OCR_PROVIDER", cfg.OCR.Provider))
	cfg.OCR.Model = getEnv("OCR_MODEL", cfg.OCR.Model)
	cfg.OCR.UnclearThreshold = getEnvInt("OCR_UNCLEAR_THRESHOLD", cfg.OCR.UnclearThreshold)
	cfg.OCR.DPI = getEnvInt("OCR_DPI", cfg.OCR.DPI)
	cfg.OCR.Concurrency = getEnvInt("OCR_CONCURRENCY", cfg.OCR.Concurrency)
	cfg.OCR.RequestsPerSecond = getEnvFloat("OCR_REQUESTS_PER_SECOND", cfg.OCR.RequestsPerSecond)
	cfg.OCR.Timeout = getEnvDuration("OCR_TIMEOUT", cfg.OCR.Timeout)

	cfg.Embeddings.Provider = strings.ToLower(getEnv("EMBEDDING_PROVIDER", cfg.Embeddings.Provider))
	cfg.Embeddings.Model = getEnv("EMBEDDING_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDING_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", cfg.Embeddings.BatchSize)

	cfg.VectorStore.Backend = strings.ToLower(getEnv("VECTOR_BACKEND", cfg.VectorStore.Backend))
	cfg.VectorStore.SQLitePath = getEnv("SQLITE_PATH", cfg.VectorStore.SQLitePath)

	cfg.Chunking.Size = getEnvInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)

	cfg.Retrieval.K = getEnvInt("RETRIEVAL_K", cfg.Retrieval.K)
	cfg.Retrieval.FetchK = getEnvInt("RETRIEVAL_FETCH_K", cfg.Retrieval.FetchK)
	cfg.Retrieval.Lambda = getEnvFloat("RETRIEVAL_LAMBDA", cfg.Retrieval.Lambda)

	cfg.IndexTimeout = getEnvDuration("INDEX_TIMEOUT", cfg.IndexTimeout)
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
