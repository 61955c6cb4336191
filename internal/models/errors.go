package models

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks invalid chunking or retrieval parameters. It is
// surfaced before any external call and never retried.
var ErrConfiguration = errors.New("invalid configuration")

// ErrNotIndexed is returned when a query is issued against an empty or
// nonexistent index.
var ErrNotIndexed = errors.New("no documents indexed")

// EmbeddingError wraps a failure from the embedding provider.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// CompletionError wraps a failure from the completion provider, including
// malformed responses.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion provider: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// SynthesisError is returned when the completion call still fails after all
// retries. It carries the last underlying error.
type SynthesisError struct {
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IndexWriteError is a fatal upsert failure. Offset is the index of the
// first chunk in the failed batch, so a caller can resume from there.
type IndexWriteError struct {
	Offset int
	Err    error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write failed at batch offset %d: %v", e.Offset, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// DimensionMismatchError is returned when an existing index has a different
// vector dimensionality than requested. This indicates a setup bug (e.g. the
// embedding model changed without a reindex) and is never retried.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("index dimension mismatch: index has %d, embedder produces %d", e.Want, e.Got)
}
