// Package retriever finds the chunks most relevant to a question.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/keyword"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
	"github.com/hyperjump/kotaeru/pkg/utils"
	"go.uber.org/zap"
)

// Retriever embeds a question and searches the vector collection. When the
// embedding provider is down it can fall back to keyword search over the same
// chunks.
type Retriever struct {
	embedder   embedding.Embedder
	store      vector.Store
	collection string
	keywords   keyword.Index   // optional
	storage    storage.Storage // hydrates keyword hits
	logger     *zap.Logger     // optional
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithKeywordFallback enables keyword retrieval via kw, hydrating chunk text
// from store.
func WithKeywordFallback(kw keyword.Index, store storage.Storage) Option {
	return func(r *Retriever) {
		r.keywords = kw
		r.storage = store
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a retriever over the named collection.
func New(embedder embedding.Embedder, store vector.Store, collection string, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:   embedder,
		store:      store,
		collection: collection,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns the top-k chunks for question by cosine similarity, highest
// score first with ties broken by chunk ID. If the index holds fewer than k
// chunks, all of them are returned. k must be positive. A non-nil filter
// restricts candidates to chunks whose payload matches every key/value pair,
// applied by the store before ranking.
func (r *Retriever) Search(ctx context.Context, question string, k int, filter map[string]string) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: retrieval k must be positive, got %d", models.ErrConfiguration, k)
	}
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	hits, err := r.store.Search(ctx, r.collection, vec, k, filter)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.RetrievedChunk, len(hits))
	for i, hit := range hits {
		chunks[i] = models.RetrievedChunk{Chunk: chunkFromHit(hit), Score: hit.Score}
	}
	if r.logger != nil {
		top := ""
		if len(chunks) > 0 {
			top = utils.Truncate(chunks[0].Chunk.Text, 120)
		}
		r.logger.Debug("vector retrieval",
			zap.String("question", question), zap.Int("k", k), zap.Int("hits", len(chunks)),
			zap.String("top_chunk", top))
	}
	return chunks, nil
}

// SearchKeyword returns the top-k chunks for question by keyword match,
// hydrating chunk contents from storage. Returns an error when no keyword
// fallback is configured.
func (r *Retriever) SearchKeyword(ctx context.Context, question string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: retrieval k must be positive, got %d", models.ErrConfiguration, k)
	}
	if r.keywords == nil || r.storage == nil {
		return nil, fmt.Errorf("keyword fallback not configured")
	}
	results, err := r.keywords.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.RetrievedChunk, 0, len(results))
	for _, res := range results {
		chunk, err := r.storage.GetChunk(ctx, res.ID)
		if err != nil {
			// Keyword index can briefly run ahead of storage; skip orphans.
			if r.logger != nil {
				r.logger.Debug("keyword hit not in storage", zap.String("chunk_id", res.ID))
			}
			continue
		}
		chunks = append(chunks, models.RetrievedChunk{Chunk: *chunk, Score: res.Score})
	}
	sortRetrieved(chunks)
	if r.logger != nil {
		r.logger.Debug("keyword retrieval",
			zap.String("question", question), zap.Int("k", k), zap.Int("hits", len(chunks)))
	}
	return chunks, nil
}

// chunkFromHit rebuilds a chunk from the vector payload written at index
// time.
func chunkFromHit(hit vector.Hit) models.Chunk {
	idx, _ := strconv.Atoi(hit.Payload[index.PayloadChunkIndex])
	return models.Chunk{
		ID:         hit.ID,
		DocumentID: hit.Payload[index.PayloadDocumentID],
		Text:       hit.Payload[index.PayloadText],
		Index:      idx,
		Metadata: map[string]string{
			index.PayloadSource: hit.Payload[index.PayloadSource],
		},
	}
}

func sortRetrieved(chunks []models.RetrievedChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})
}
