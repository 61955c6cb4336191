package synthesis

import (
	"context"
	"strings"
	"time"

	"github.com/hyperjump/kotaeru/internal/llm"
	"github.com/hyperjump/kotaeru/internal/models"
	"go.uber.org/zap"
)

// InsufficientContextAnswer is returned without calling the completion
// provider when retrieval produced nothing to ground an answer on.
const InsufficientContextAnswer = "I don't have enough information in the indexed documents to answer that question."

const (
	// DefaultMaxAttempts is the number of completion attempts before giving
	// up with SynthesisError.
	DefaultMaxAttempts = 3

	retryBaseDelay = 300 * time.Millisecond
)

// ModeParams are the per-mode completion settings.
type ModeParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Synthesizer builds a prompt from retrieved chunks and asks the completion
// client for an answer. Completion failures are retried with backoff;
// exhaustion surfaces as models.SynthesisError.
type Synthesizer struct {
	client      llm.Client
	params      map[models.Mode]ModeParams
	maxAttempts int
	logger      *zap.Logger // optional
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMaxAttempts overrides the completion attempt count.
func WithMaxAttempts(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New creates a synthesizer. params maps each mode to its completion
// settings; a missing mode falls back to the client's defaults.
func New(client llm.Client, params map[models.Mode]ModeParams, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:      client,
		params:      params,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer synthesizes an answer to question from chunks. When chunks is empty
// or contains only whitespace text, it short-circuits with
// InsufficientContextAnswer and never contacts the provider. The returned
// prompt is the exact prompt sent (empty on short-circuit), for verbose
// output.
func (s *Synthesizer) Answer(ctx context.Context, mode models.Mode, question string, chunks []models.RetrievedChunk) (answer, prompt string, err error) {
	if !hasContent(chunks) {
		if s.logger != nil {
			s.logger.Debug("synthesis short-circuit, no usable context",
				zap.String("question", question))
		}
		return InsufficientContextAnswer, "", nil
	}
	prompt = BuildPrompt(mode, question, chunks)
	p := s.params[mode]
	opts := llm.Options{Model: p.Model, MaxTokens: p.MaxTokens, Temperature: p.Temperature}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay << (attempt - 2)
			if s.logger != nil {
				s.logger.Debug("synthesis retry",
					zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", prompt, &models.SynthesisError{Attempts: attempt - 1, Err: ctx.Err()}
			}
		}
		answer, lastErr = s.client.Complete(ctx, prompt, opts)
		if lastErr == nil {
			return answer, prompt, nil
		}
	}
	return "", prompt, &models.SynthesisError{Attempts: s.maxAttempts, Err: lastErr}
}

func hasContent(chunks []models.RetrievedChunk) bool {
	for _, rc := range chunks {
		if strings.TrimSpace(rc.Chunk.Text) != "" {
			return true
		}
	}
	return false
}
