package index

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotaeru/internal/chunker"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/keyword"
	"github.com/hyperjump/kotaeru/internal/loader"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/storage"
	"go.uber.org/zap"
)

// Indexer runs the ingestion pipeline: load, chunk, embed, persist, and write
// to the vector and keyword indices.
type Indexer struct {
	loader   *loader.Loader
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	manager  *Manager
	storage  storage.Storage
	keywords keyword.Index
	logger   *zap.Logger // optional
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets a logger for debug output.
func WithIndexerLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer. keywords may be nil to disable the keyword
// fallback index.
func NewIndexer(
	ld *loader.Loader,
	ck *chunker.Chunker,
	embedder embedding.Embedder,
	manager *Manager,
	store storage.Storage,
	keywords keyword.Index,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		loader:   ld,
		chunker:  ck,
		embedder: embedder,
		manager:  manager,
		storage:  store,
		keywords: keywords,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Result summarizes an indexing run.
type Result struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Skipped   int `json:"skipped"`
}

// IndexDocument chunks, embeds, and indexes a single document. The document
// manifest and chunk contents go to storage; embeddings go to the vector
// collection; chunk text goes to the keyword index. Re-indexing the same
// document replaces its chunks rather than duplicating them.
func (idx *Indexer) IndexDocument(ctx context.Context, doc *models.Document) (int, error) {
	if err := idx.manager.Ensure(ctx); err != nil {
		return 0, err
	}
	chunks := idx.chunker.Split(*doc)
	if len(chunks) == 0 {
		if idx.logger != nil {
			idx.logger.Debug("skipping empty document", zap.String("doc_id", doc.ID))
		}
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	refs := make([]*models.Chunk, len(chunks))
	newIDs := make(map[string]bool, len(chunks))
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
		refs[i] = &chunks[i]
		newIDs[chunks[i].ID] = true
	}
	if err := idx.removeStaleChunks(ctx, doc.ID, newIDs); err != nil {
		return 0, err
	}
	if err := idx.storage.UpsertDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to store document: %w", err)
	}
	if err := idx.storage.UpsertChunks(ctx, refs); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := idx.manager.UpsertChunks(ctx, refs); err != nil {
		return 0, err
	}
	if idx.keywords != nil {
		for _, chunk := range refs {
			if err := idx.keywords.Add(ctx, chunk.ID, chunk.Text, chunk.Metadata[PayloadSource]); err != nil {
				return 0, fmt.Errorf("failed to index keywords: %w", err)
			}
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("document indexed",
			zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	}
	return len(chunks), nil
}

// IndexFile loads and indexes one file. Unchanged files (same path, mtime,
// and size as the stored manifest) are skipped; skipped reports that.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (chunks int, skipped bool, err error) {
	doc, err := idx.loader.LoadFile(path)
	if err != nil {
		return 0, false, err
	}
	if idx.unchanged(ctx, doc) {
		if idx.logger != nil {
			idx.logger.Debug("skipping unchanged file", zap.String("path", path))
		}
		return 0, true, nil
	}
	n, err := idx.IndexDocument(ctx, doc)
	return n, false, err
}

// IndexDirectory loads and indexes every matching file under dir. Files that
// fail to load are skipped by the loader; an indexing failure aborts the run.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir, glob string) (*Result, error) {
	docs, err := idx.loader.LoadDirectory(dir, glob)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, doc := range docs {
		if idx.unchanged(ctx, doc) {
			res.Skipped++
			continue
		}
		n, err := idx.IndexDocument(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("index %s: %w", doc.SourcePath, err)
		}
		res.Documents++
		res.Chunks += n
	}
	if idx.logger != nil {
		idx.logger.Info("directory indexed",
			zap.String("dir", dir),
			zap.Int("documents", res.Documents),
			zap.Int("chunks", res.Chunks),
			zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

// removeStaleChunks deletes previously indexed chunks of docID that are not
// in newIDs, so a shrunk or re-chunked document leaves nothing behind in the
// vector or keyword index. Chunks in newIDs are overwritten by the upsert.
func (idx *Indexer) removeStaleChunks(ctx context.Context, docID string, newIDs map[string]bool) error {
	old, err := idx.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to load existing chunks: %w", err)
	}
	var stale []string
	for _, chunk := range old {
		if !newIDs[chunk.ID] {
			stale = append(stale, chunk.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := idx.manager.DeleteChunks(ctx, stale); err != nil {
		return fmt.Errorf("failed to delete stale vectors: %w", err)
	}
	if idx.keywords != nil {
		for _, id := range stale {
			if err := idx.keywords.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete stale keywords: %w", err)
			}
		}
	}
	return nil
}

// unchanged reports whether the stored manifest matches doc's source path,
// mtime, and size.
func (idx *Indexer) unchanged(ctx context.Context, doc *models.Document) bool {
	stored, err := idx.storage.GetDocument(ctx, doc.ID)
	if err != nil || stored.Metadata == nil {
		return false
	}
	for _, key := range []string{loader.MetaKeySourcePath, loader.MetaKeySourceMtime, loader.MetaKeySourceSize} {
		if stored.Metadata[key] != doc.Metadata[key] {
			return false
		}
	}
	return true
}

// DeleteDocument removes a document from storage and both indices.
func (idx *Indexer) DeleteDocument(ctx context.Context, docID string) error {
	chunks, err := idx.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	if err := idx.manager.DeleteChunks(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if idx.keywords != nil {
		for _, id := range ids {
			if err := idx.keywords.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete from keyword index: %w", err)
			}
		}
	}
	if err := idx.storage.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("document deleted", zap.String("doc_id", docID))
	}
	return nil
}

// Clear wipes storage and both indices.
func (idx *Indexer) Clear(ctx context.Context) error {
	if err := idx.manager.Reset(ctx); err != nil {
		return err
	}
	if idx.keywords != nil {
		docs, err := idx.storage.ListDocuments(ctx, 0, 1<<30)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			chunks, err := idx.storage.GetChunksByDocumentID(ctx, doc.ID)
			if err != nil {
				return err
			}
			for _, chunk := range chunks {
				_ = idx.keywords.Delete(ctx, chunk.ID)
			}
		}
	}
	return idx.storage.DeleteAll(ctx)
}

// Stats reports index sizes.
type Stats struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Vectors   int   `json:"vectors"`
}

// Stats returns current document, chunk, and vector counts.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	docs, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := idx.manager.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Documents: docs, Chunks: chunks, Vectors: vectors}, nil
}
