// Package llm provides completion clients for answer synthesis.
package llm

import "context"

// Options control a single completion call. Zero values fall back to the
// client's configured defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client produces text completions. A single Complete call makes exactly one
// provider request; retry policy belongs to the caller.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	ModelName() string
	Close() error
}
