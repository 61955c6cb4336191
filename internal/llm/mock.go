package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/hyperjump/kotaeru/internal/models"
)

// MockClient is a scriptable completion client for tests. By default it
// answers by echoing the first context block out of the prompt, so tests can
// assert that the retrieved text ends up in the answer.
type MockClient struct {
	// Answer, when non-empty, is returned verbatim for every call.
	Answer string
	// FailCalls makes the first N Complete calls fail with CompletionError.
	FailCalls int

	// Calls records the prompts of every Complete invocation.
	Calls []string
	// Opts records the options of every Complete invocation.
	Opts []Options
}

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete records the call, then fails if scripted to, then answers.
func (m *MockClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	m.Calls = append(m.Calls, prompt)
	m.Opts = append(m.Opts, opts)
	if len(m.Calls) <= m.FailCalls {
		return "", &models.CompletionError{Err: errors.New("mock failure")}
	}
	if m.Answer != "" {
		return m.Answer, nil
	}
	return "Based on the provided context: " + firstContextBlock(prompt), nil
}

// firstContextBlock pulls the body of the first "Document N (Source: ...):"
// block from a synthesis prompt. Falls back to the whole prompt when no block
// is present.
func firstContextBlock(prompt string) string {
	idx := strings.Index(prompt, "Document 1 (Source:")
	if idx < 0 {
		return strings.TrimSpace(prompt)
	}
	rest := prompt[idx:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "\n\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ModelName identifies the mock model.
func (m *MockClient) ModelName() string {
	return "mock-completion"
}

// Close is a no-op for MockClient.
func (m *MockClient) Close() error {
	return nil
}
