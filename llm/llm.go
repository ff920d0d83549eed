package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/scanqa/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Image is an inline image attached to a message, such as a rasterized page.
type Image struct {
	Data     []byte
	MIMEType string
}

type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Client is the text generation capability. Implementations that accept
// images in messages also serve as the transcription capability.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient builds the answer generation client.
func NewClient(cfg config.Config) (Client, error) {
	return newClient(optionsFor(cfg, cfg.LLM))
}

// NewVisionClient builds the page transcription client.
func NewVisionClient(cfg config.Config) (Client, error) {
	return newClient(optionsFor(cfg, cfg.OCR.LLMConfig))
}

func optionsFor(cfg config.Config, model config.LLMConfig) Options {
	return Options{
		Provider:      model.Provider,
		Model:         model.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

func newClient(opts Options) (Client, error) {
	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

func mimeOrPNG(img Image) string {
	if img.MIMEType == "" {
		return "image/png"
	}
	return img.MIMEType
}
