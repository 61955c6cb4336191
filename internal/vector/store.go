// Package vector provides vector similarity stores for chunk embeddings.
package vector

import "context"

// Point is a single embedded chunk to be stored.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Hit is a search result with its similarity score.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// Store is a vector similarity store. Collections act as namespaces; a
// collection must be created with EnsureCollection before points are
// upserted into it.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	// Returns models.DimensionMismatchError if the collection exists
	// with a different dimension.
	EnsureCollection(ctx context.Context, collection string, dimensions int) error

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns the top-k points by cosine similarity to vector,
	// highest score first. Ties are broken by ascending point ID so
	// results are deterministic. filter, when non-nil, restricts results
	// to points whose payload matches every key/value pair.
	Search(ctx context.Context, collection string, vector []float32, k int, filter map[string]string) ([]Hit, error)

	// DeletePoints removes points by ID. Missing IDs are ignored.
	DeletePoints(ctx context.Context, collection string, ids []string) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection drops the collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases any resources held by the store.
	Close() error
}
