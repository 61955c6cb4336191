// Package config provides configuration loading and structs for Kotaeru.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kotaeru/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Mode      string          `yaml:"mode"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Vector    VectorConfig    `yaml:"vector"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the document manifest and keyword index.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds embedding provider settings. APIKey is never read
// from YAML; it comes from the OPENAI_API_KEY environment variable.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    Duration      `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
	MaxRetries int           `yaml:"max_retries"`
	APIKey     string        `yaml:"-"`
}

// LLMConfig holds completion provider settings. The quality and fast models
// are both configured here; which one is used follows the engine mode.
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	FastModel     string        `yaml:"fast_model"`
	Timeout       Duration      `yaml:"timeout"`
	MaxTokens     int           `yaml:"max_tokens"`
	FastMaxTokens int           `yaml:"fast_max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	MaxRetries    int           `yaml:"max_retries"`
	APIKey        string        `yaml:"-"`
}

// VectorConfig holds vector store settings. Backend is "qdrant" or "memory".
type VectorConfig struct {
	Backend         string        `yaml:"backend"`
	URL             string        `yaml:"url"`
	Namespace       string        `yaml:"namespace"`
	UpsertBatchSize int           `yaml:"upsert_batch_size"`
	MaxRetries      int           `yaml:"max_retries"`
	Timeout         Duration      `yaml:"timeout"`
	APIKey          string        `yaml:"-"`
}

// ChunkingConfig holds chunker settings, in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds retrieval depth per mode and the fast-mode latency
// target used for logging and stats.
type RetrievalConfig struct {
	FastK             int           `yaml:"fast_k"`
	QualityK          int           `yaml:"quality_k"`
	FastLatencyTarget Duration      `yaml:"fast_latency_target"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, pulls secrets from the environment, and validates. Returns an
// error if the file cannot be read or parsed, or the result is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv pulls secrets and overrides from the environment. API keys are
// environment-only so they never end up in a checked-in file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Vector.APIKey = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("KOTAERU_MODE"); v != "" {
		cfg.Mode = v
	}
}

// Validate checks parameters that would otherwise fail deep inside the
// pipeline. Violations wrap models.ErrConfiguration and are never retried.
func (c *Config) Validate() error {
	if _, err := models.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: chunking.size must be positive, got %d", models.ErrConfiguration, c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("%w: chunking.overlap must not be negative, got %d", models.ErrConfiguration, c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking.overlap (%d) must be smaller than chunking.size (%d)",
			models.ErrConfiguration, c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Retrieval.FastK <= 0 || c.Retrieval.QualityK <= 0 {
		return fmt.Errorf("%w: retrieval k values must be positive", models.ErrConfiguration)
	}
	switch c.Vector.Backend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("%w: unknown vector backend %q", models.ErrConfiguration, c.Vector.Backend)
	}
	return nil
}

// ModeOrDefault returns the parsed mode. Call Validate first; an invalid
// mode falls back to fast here.
func (c *Config) ModeOrDefault() models.Mode {
	mode, err := models.ParseMode(c.Mode)
	if err != nil {
		return models.ModeFast
	}
	return mode
}

// K returns the retrieval depth for the configured mode.
func (c *Config) K() int {
	if c.ModeOrDefault() == models.ModeQuality {
		return c.Retrieval.QualityK
	}
	return c.Retrieval.FastK
}

// LLMModel returns the completion model for the configured mode.
func (c *Config) LLMModel() string {
	if c.ModeOrDefault() == models.ModeQuality {
		return c.LLM.Model
	}
	return c.LLM.FastModel
}

// MaxTokens returns the completion output budget for the configured mode.
func (c *Config) MaxTokens() int {
	if c.ModeOrDefault() == models.ModeQuality {
		return c.LLM.MaxTokens
	}
	return c.LLM.FastMaxTokens
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
