// Package qa orchestrates retrieval and synthesis into a question answering
// engine.
package qa

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/retriever"
	"github.com/hyperjump/kotaeru/internal/synthesis"
	"go.uber.org/zap"
)

// EmptyIndexAnswer is returned when a query arrives before any document has
// been indexed. No provider call is made.
const EmptyIndexAnswer = "No documents have been indexed yet. Index some documents before asking questions."

// Params hold per-mode retrieval settings and the latency expectation for
// fast mode.
type Params struct {
	DefaultMode models.Mode
	FastK       int
	QualityK    int
	// FastLatencyTarget is the end-to-end latency fast mode aims for. When a
	// fast query exceeds it, the engine logs a warning; the answer is still
	// returned.
	FastLatencyTarget time.Duration
}

// QueryOptions modify a single query.
type QueryOptions struct {
	// Mode overrides the engine's default mode when non-empty.
	Mode models.Mode
	// Verbose includes the exact synthesis prompt in the result.
	Verbose bool
	// Filter restricts retrieval to chunks whose metadata matches every
	// key/value pair. Applied before ranking; nil means no restriction.
	Filter map[string]string
}

// Engine answers questions over the indexed corpus.
type Engine struct {
	retriever   *retriever.Retriever
	synthesizer *synthesis.Synthesizer
	indexer     *index.Indexer
	params      Params
	logger      *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for query diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine.
func New(r *retriever.Retriever, s *synthesis.Synthesizer, idx *index.Indexer, params Params, opts ...Option) *Engine {
	if params.DefaultMode == "" {
		params.DefaultMode = models.ModeFast
	}
	e := &Engine{
		retriever:   r,
		synthesizer: s,
		indexer:     idx,
		params:      params,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexDirectory indexes every matching file under dir.
func (e *Engine) IndexDirectory(ctx context.Context, dir, glob string) (*index.Result, error) {
	return e.indexer.IndexDirectory(ctx, dir, glob)
}

// IndexDocument indexes a single in-memory document.
func (e *Engine) IndexDocument(ctx context.Context, doc *models.Document) (int, error) {
	return e.indexer.IndexDocument(ctx, doc)
}

// IndexFile indexes a single file from disk.
func (e *Engine) IndexFile(ctx context.Context, path string) (int, bool, error) {
	return e.indexer.IndexFile(ctx, path)
}

// DeleteDocument removes one document from all indices.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	return e.indexer.DeleteDocument(ctx, docID)
}

// Clear wipes the entire index.
func (e *Engine) Clear(ctx context.Context) error {
	return e.indexer.Clear(ctx)
}

// Stats reports index sizes.
func (e *Engine) Stats(ctx context.Context) (*index.Stats, error) {
	return e.indexer.Stats(ctx)
}

// FailedAnswerPrefix begins the answer of a result whose pipeline failed.
// The underlying error message follows so the caller sees what went wrong.
const FailedAnswerPrefix = "Sorry, this question could not be answered: "

// Query answers question over the indexed corpus. The result's Latency is
// always set, including on failure. Provider and infrastructure failures
// never escape as errors:
//   - an embedding failure falls back to keyword retrieval when configured,
//     marking the result Degraded;
//   - when no fallback is possible, or synthesis exhausts its retries, the
//     result comes back Failed with an Answer stating the failure.
//
// Only configuration errors (bad mode, non-positive k) are returned as
// errors, without a result.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (*models.QueryResult, error) {
	start := time.Now()
	mode := opts.Mode
	if mode == "" {
		mode = e.params.DefaultMode
	}
	if mode != models.ModeFast && mode != models.ModeQuality {
		return nil, models.ErrConfiguration
	}
	k := e.params.QualityK
	if mode == models.ModeFast {
		k = e.params.FastK
	}

	result := &models.QueryResult{}
	finish := func() { result.Latency = time.Since(start); e.observeLatency(mode, result) }
	fail := func(err error) (*models.QueryResult, error) {
		result.Failed = true
		result.Answer = FailedAnswerPrefix + err.Error()
		finish()
		if e.logger != nil {
			e.logger.Warn("query failed", zap.String("question", question), zap.Error(err))
		}
		return result, nil
	}

	empty, err := e.indexEmpty(ctx)
	if err != nil {
		return fail(err)
	}
	if empty {
		result.Answer = EmptyIndexAnswer
		finish()
		return result, nil
	}

	chunks, err := e.retriever.Search(ctx, question, k, opts.Filter)
	if err != nil {
		if errors.Is(err, models.ErrConfiguration) {
			return nil, err
		}
		var embErr *models.EmbeddingError
		if errors.As(err, &embErr) {
			fallback, kwErr := e.retriever.SearchKeyword(ctx, question, k)
			if kwErr != nil {
				if e.logger != nil {
					e.logger.Warn("retrieval failed with no usable fallback",
						zap.Error(err), zap.NamedError("fallback_error", kwErr))
				}
				return fail(err)
			}
			if e.logger != nil {
				e.logger.Warn("embedding provider down, degraded to keyword retrieval",
					zap.String("question", question), zap.Error(err))
			}
			result.Degraded = true
			chunks = fallback
		} else {
			return fail(err)
		}
	}

	answer, prompt, err := e.synthesizer.Answer(ctx, mode, question, chunks)
	if err != nil {
		return fail(err)
	}
	result.Answer = answer
	result.Sources = sourcesFrom(chunks)
	if opts.Verbose {
		result.Prompt = prompt
	}
	finish()
	if e.logger != nil {
		e.logger.Debug("query answered",
			zap.String("mode", string(mode)),
			zap.Int("sources", len(result.Sources)),
			zap.Bool("degraded", result.Degraded),
			zap.Duration("latency", result.Latency))
	}
	return result, nil
}

func (e *Engine) observeLatency(mode models.Mode, result *models.QueryResult) {
	if mode != models.ModeFast || e.params.FastLatencyTarget <= 0 {
		return
	}
	if result.Latency > e.params.FastLatencyTarget && e.logger != nil {
		e.logger.Warn("fast mode exceeded latency target",
			zap.Duration("latency", result.Latency),
			zap.Duration("target", e.params.FastLatencyTarget))
	}
}

func (e *Engine) indexEmpty(ctx context.Context) (bool, error) {
	stats, err := e.indexer.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.Chunks == 0, nil
}

func sourcesFrom(chunks []models.RetrievedChunk) []models.Source {
	sources := make([]models.Source, len(chunks))
	for i, rc := range chunks {
		sources[i] = models.Source{
			ChunkID:    rc.Chunk.ID,
			DocumentID: rc.Chunk.DocumentID,
			SourcePath: rc.Chunk.Metadata["source"],
			ChunkIndex: rc.Chunk.Index,
			Score:      rc.Score,
		}
	}
	return sources
}
