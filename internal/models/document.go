// Package models defines core data structures for documents, chunks, and query results.
package models

import "time"

// Document is a loaded source file. It exists only for the duration of an
// indexing run; durable state is kept as chunks, never whole documents.
type Document struct {
	ID         string            `json:"id"`
	SourcePath string            `json:"source_path"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Chunk is a bounded substring of a document, the unit of embedding and retrieval.
// Start and End are rune offsets into the source document text.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Index      int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
}

// RetrievedChunk is a chunk with the similarity score it was retrieved at.
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Source identifies a chunk that contributed to an answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	SourcePath string  `json:"source_path,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// QueryResult is the outcome of a single question. Latency is always
// populated, including for failed queries, so callers can assert
// latency objectives independent of answer content.
type QueryResult struct {
	Answer   string        `json:"answer"`
	Sources  []Source      `json:"sources,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
	Failed   bool          `json:"failed,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
}
