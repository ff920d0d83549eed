// Package embeddings maps chunk and query text to vectors.
package embeddings

import (
	"context"
	"fmt"

	"github.com/fabfab/scanqa/config"
)

// Embedder turns texts into fixed-dimension vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options is the provider-neutral subset of config an embedder needs.
type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func optionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

// NewEmbedder selects the embedder named by cfg.Embeddings.Provider.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := optionsFromConfig(cfg)

	switch opts.Provider {
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderHash:
		return NewHashEmbedder(opts.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}
