// Package config loads the jeeves-watcher configuration document. One
// YAML (or JSON, which YAML subsumes) file configures the whole
// daemon; strings support ${VAR} / ${VAR:default} environment
// expansion applied recursively.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
	"github.com/karmaniverous/jeeves-watcher/internal/rules"
	"github.com/karmaniverous/jeeves-watcher/internal/sidecar"
)

// Config is the complete daemon configuration.
type Config struct {
	Watch             WatchConfig       `yaml:"watch" json:"watch"`
	ConfigWatch       ConfigWatchConfig `yaml:"configWatch" json:"configWatch"`
	Embedding         EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	VectorStore       VectorStoreConfig `yaml:"vectorStore" json:"vectorStore"`
	MetadataDir       string            `yaml:"metadataDir" json:"metadataDir"`
	API               APIConfig         `yaml:"api" json:"api"`
	InferenceRules    []rules.Rule      `yaml:"inferenceRules" json:"inferenceRules"`
	Maps              map[string]any    `yaml:"maps" json:"maps"`
	Logging           LoggingConfig     `yaml:"logging" json:"logging"`
	ShutdownTimeoutMs int               `yaml:"shutdownTimeoutMs" json:"shutdownTimeoutMs"`
}

// WatchConfig selects and tunes the filesystem watcher.
type WatchConfig struct {
	// Paths are directory globs selecting the corpus.
	Paths []string `yaml:"paths" json:"paths"`

	// Ignored globs are excluded before the gitignore filter runs.
	Ignored []string `yaml:"ignored" json:"ignored"`

	// UsePolling forces the polling fallback.
	UsePolling     bool `yaml:"usePolling" json:"usePolling"`
	PollIntervalMs int  `yaml:"pollIntervalMs" json:"pollIntervalMs"`

	// DebounceMs is the queue's per-path coalescing window.
	DebounceMs int `yaml:"debounceMs" json:"debounceMs"`

	// StabilityMs delays events until size and mtime settle. 0 disables.
	StabilityMs int `yaml:"stabilityMs" json:"stabilityMs"`
}

func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func (w WatchConfig) Stability() time.Duration {
	return time.Duration(w.StabilityMs) * time.Millisecond
}

// ConfigWatchConfig tunes hot reload of the configuration file itself.
type ConfigWatchConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	DebounceMs int  `yaml:"debounceMs" json:"debounceMs"`
}

func (c ConfigWatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// EmbeddingConfig selects the embedding provider and the chunking and
// throughput parameters that surround it.
type EmbeddingConfig struct {
	// Provider is "ollama" (default), "openai", or "hash".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Host       string `yaml:"host" json:"host"`
	APIKey     string `yaml:"apiKey" json:"apiKey"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	TimeoutMs  int    `yaml:"timeoutMs" json:"timeoutMs"`

	ChunkSize    int `yaml:"chunkSize" json:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap" json:"chunkOverlap"`

	// RateLimitPerMinute caps pipeline runs per minute. 0 disables.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute" json:"rateLimitPerMinute"`

	// Concurrency bounds simultaneously processed files.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// VectorStoreConfig points at the external vector store.
type VectorStoreConfig struct {
	URL        string `yaml:"url" json:"url"`
	Collection string `yaml:"collection" json:"collection"`
	APIKey     string `yaml:"apiKey" json:"apiKey"`
}

// APIConfig binds the HTTP surface.
type APIConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig tunes slog output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`

	// File receives JSON log lines; empty logs to stderr only.
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"maxSizeMb" json:"maxSizeMb"`

	// Stderr mirrors file logging to stderr as well.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Watch: WatchConfig{
			PollIntervalMs: 2000,
			DebounceMs:     500,
		},
		ConfigWatch: ConfigWatchConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
		Embedding: EmbeddingConfig{
			Provider:     "ollama",
			Model:        "nomic-embed-text",
			Dimensions:   768,
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Concurrency:  4,
		},
		VectorStore: VectorStoreConfig{
			Collection: "jeeves",
		},
		MetadataDir: sidecar.DefaultDir,
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Stderr:    true,
		},
		ShutdownTimeoutMs: 10000,
	}
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// Load reads, env-expands, parses, and validates the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.ConfigError(fmt.Sprintf("read config %s", path), err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML/JSON bytes. Keys absent from the
// document keep their defaults; keys present override them, including
// explicit zeros.
func Parse(data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, werrors.ConfigError("parse config", err)
	}

	expanded, err := yaml.Marshal(expandEnv(doc))
	if err != nil {
		return nil, werrors.ConfigError("re-encode config", err)
	}

	cfg := New()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, werrors.ConfigError("decode config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if len(c.Watch.Paths) == 0 {
		return werrors.ConfigError("watch.paths must name at least one glob", nil)
	}
	if c.VectorStore.URL == "" {
		return werrors.ConfigError("vectorStore.url is required", nil)
	}
	if c.VectorStore.Collection == "" {
		return werrors.ConfigError("vectorStore.collection is required", nil)
	}
	if c.Embedding.Dimensions <= 0 {
		return werrors.ConfigError("embedding.dimensions must be positive", nil)
	}
	if c.Embedding.ChunkSize <= 0 {
		return werrors.ConfigError("embedding.chunkSize must be positive", nil)
	}
	if c.Embedding.ChunkOverlap < 0 || c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		return werrors.ConfigError("embedding.chunkOverlap must be in [0, chunkSize)", nil)
	}
	if c.Embedding.Concurrency < 1 {
		return werrors.ConfigError("embedding.concurrency must be at least 1", nil)
	}
	if c.Embedding.RateLimitPerMinute < 0 {
		return werrors.ConfigError("embedding.rateLimitPerMinute must not be negative", nil)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return werrors.ConfigError("api.port must be a valid port", nil)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return werrors.ConfigError(
			fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level), nil)
	}
	if c.ShutdownTimeoutMs < 0 {
		return werrors.ConfigError("shutdownTimeoutMs must not be negative", nil)
	}
	return nil
}

// envPattern matches ${VAR} and ${VAR:default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// envExpandDepth bounds recursive expansion so a variable that expands
// to itself terminates.
const envExpandDepth = 8

// expandEnv walks a decoded document and expands environment
// references in every string leaf.
func expandEnv(doc any) any {
	switch v := doc.(type) {
	case string:
		return expandString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = expandEnv(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = expandEnv(value)
		}
		return out
	default:
		return doc
	}
}

func expandString(s string) string {
	for i := 0; i < envExpandDepth && envPattern.MatchString(s); i++ {
		s = envPattern.ReplaceAllStringFunc(s, func(ref string) string {
			groups := envPattern.FindStringSubmatch(ref)
			if value, ok := os.LookupEnv(groups[1]); ok {
				return value
			}
			return groups[2]
		})
	}
	return s
}
