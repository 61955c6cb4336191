package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
// Model and chunking defaults follow the corpus this tool was built for:
// text-embedding-3-small vectors, 1000-character chunks with 200 overlap,
// four chunks of context in quality mode and three in fast mode.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "fast"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotaeru/data/db/manifest.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kotaeru/data/indices/bleve"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4-turbo-preview"
	}
	if cfg.LLM.FastModel == "" {
		cfg.LLM.FastModel = "gpt-3.5-turbo"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.FastMaxTokens == 0 {
		cfg.LLM.FastMaxTokens = 400
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "qdrant"
	}
	if cfg.Vector.URL == "" {
		cfg.Vector.URL = "http://localhost:6333"
	}
	if cfg.Vector.Namespace == "" {
		cfg.Vector.Namespace = "document-intelligence"
	}
	if cfg.Vector.UpsertBatchSize == 0 {
		cfg.Vector.UpsertBatchSize = 100
	}
	if cfg.Vector.MaxRetries == 0 {
		cfg.Vector.MaxRetries = 3
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = Duration(15 * time.Second)
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}
	if cfg.Retrieval.FastK == 0 {
		cfg.Retrieval.FastK = 3
	}
	if cfg.Retrieval.QualityK == 0 {
		cfg.Retrieval.QualityK = 4
	}
	if cfg.Retrieval.FastLatencyTarget == 0 {
		cfg.Retrieval.FastLatencyTarget = Duration(2 * time.Second)
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
