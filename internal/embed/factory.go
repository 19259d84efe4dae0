package embed

import (
	"fmt"
	"time"

	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
)

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is one of "ollama", "openai", or "hash".
	Provider string

	Model      string
	Host       string // provider endpoint (base URL)
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// New builds the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil

	case "openai":
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Host,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil

	case "hash", "static":
		return NewHashEmbedder(), nil

	default:
		return nil, werrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}
