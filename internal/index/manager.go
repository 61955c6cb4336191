// Package index manages the vector collection and the document indexing
// pipeline feeding it.
package index

import (
	"context"
	"strconv"
	"time"

	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/vector"
	"go.uber.org/zap"
)

// Payload keys stored alongside each vector so hits can be turned back into
// chunks without a storage lookup.
const (
	PayloadText       = "text"
	PayloadDocumentID = "document_id"
	PayloadSource     = "source"
	PayloadChunkIndex = "chunk_index"
)

const (
	// DefaultBatchSize is the number of chunks upserted per request.
	DefaultBatchSize = 100
	// DefaultMaxRetries is the number of attempts per batch.
	DefaultMaxRetries = 3

	retryBaseDelay = 250 * time.Millisecond
)

// Manager owns one vector collection: it creates it on demand, writes chunk
// embeddings in batches, and reports its size. A batch that still fails after
// retries aborts the write with models.IndexWriteError carrying the offset of
// the failed batch, so the caller knows indexing stopped partway.
type Manager struct {
	store      vector.Store
	collection string
	dimensions int
	batchSize  int
	maxRetries int
	logger     *zap.Logger // optional
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBatchSize overrides the upsert batch size.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithMaxRetries overrides the per-batch attempt count.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager for the named collection with the given
// embedding dimensionality.
func NewManager(store vector.Store, collection string, dimensions int, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		collection: collection,
		dimensions: dimensions,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Collection returns the collection name.
func (m *Manager) Collection() string {
	return m.collection
}

// Ensure creates the collection if missing. A dimension conflict with an
// existing collection surfaces as models.DimensionMismatchError.
func (m *Manager) Ensure(ctx context.Context) error {
	return m.store.EnsureCollection(ctx, m.collection, m.dimensions)
}

// UpsertChunks writes embedded chunks to the collection in batches. Chunks
// without an embedding are rejected. Each batch is retried with backoff;
// exhausting retries aborts the whole write.
func (m *Manager) UpsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	for offset := 0; offset < len(chunks); offset += m.batchSize {
		end := offset + m.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]
		points := make([]vector.Point, len(batch))
		for i, chunk := range batch {
			if len(chunk.Embedding) != m.dimensions {
				return &models.DimensionMismatchError{Got: len(chunk.Embedding), Want: m.dimensions}
			}
			source := chunk.Metadata[PayloadSource]
			points[i] = vector.Point{
				ID:     chunk.ID,
				Vector: chunk.Embedding,
				Payload: map[string]string{
					PayloadText:       chunk.Text,
					PayloadDocumentID: chunk.DocumentID,
					PayloadSource:     source,
					PayloadChunkIndex: strconv.Itoa(chunk.Index),
				},
			}
		}
		if err := m.upsertBatch(ctx, points); err != nil {
			return &models.IndexWriteError{Offset: offset, Err: err}
		}
		if m.logger != nil {
			m.logger.Debug("index batch upserted",
				zap.String("collection", m.collection),
				zap.Int("offset", offset), zap.Int("size", len(batch)))
		}
	}
	return nil
}

func (m *Manager) upsertBatch(ctx context.Context, points []vector.Point) error {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if m.logger != nil {
				m.logger.Debug("index batch retry",
					zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(lastErr))
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = m.store.Upsert(ctx, m.collection, points)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// DeleteChunks removes chunk vectors by ID.
func (m *Manager) DeleteChunks(ctx context.Context, ids []string) error {
	return m.store.DeletePoints(ctx, m.collection, ids)
}

// Count returns the number of vectors in the collection.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx, m.collection)
}

// Reset drops the collection and recreates it empty.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.store.DeleteCollection(ctx, m.collection); err != nil {
		return err
	}
	return m.Ensure(ctx)
}
