// Package keyword provides a chunk-level keyword index used as a fallback
// retrieval path when the embedding provider is unavailable.
package keyword

import "context"

// Result is a keyword search hit.
type Result struct {
	ID    string
	Score float64
}

// Index is a full-text index over chunk contents.
type Index interface {
	// Add indexes a chunk's text under its ID, replacing any previous entry.
	Add(ctx context.Context, chunkID, text, source string) error

	// Search returns up to limit chunks matching query, best first.
	Search(ctx context.Context, query string, limit int) ([]Result, error)

	// Delete removes a chunk from the index.
	Delete(ctx context.Context, chunkID string) error

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	Close() error
}
