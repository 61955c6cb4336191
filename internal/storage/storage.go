// Package storage defines chunk persistence. Documents are stored as a
// manifest only (path and source metadata, no text); the chunk rows carry the
// text needed to rebuild answers and the keyword index.
package storage

import (
	"context"

	"github.com/hyperjump/kotaeru/internal/models"
)

// Storage persists the document manifest and chunk contents.
type Storage interface {
	// UpsertDocument inserts or replaces a document manifest entry.
	// Replacing a document removes its existing chunks.
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// UpsertChunks inserts or replaces chunks in a single transaction.
	UpsertChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)

	// DeleteAll wipes every document and chunk.
	DeleteAll(ctx context.Context) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
