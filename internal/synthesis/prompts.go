// Package synthesis turns retrieved chunks into an answer via a completion
// client.
package synthesis

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotaeru/internal/models"
)

// qualityTemplate asks the model to reason step by step before answering.
// Used in quality mode where answer depth matters more than latency.
const qualityTemplate = `You are a technical expert assistant. Answer the question using the provided context documents.

Use chain-of-thought reasoning:
1. First, identify the key technical concepts in the question
2. Then, analyze the relevant information from the context
3. Finally, provide a clear, accurate answer

Context Documents:
%s

Question: %s

Technical Analysis:
Let me break this down step by step:

1. Key Concepts: [Identify the main technical concepts in the question]

2. Relevant Information: [Extract and analyze relevant details from the context]

3. Answer: [Provide a clear, comprehensive answer]

Please provide your response following this chain-of-thought structure.`

// fastTemplate trades answer depth for latency.
const fastTemplate = `Answer this technical question using the context.

Context: %s

Question: %s

Answer:`

// BuildPrompt assembles the synthesis prompt for the given mode.
func BuildPrompt(mode models.Mode, question string, chunks []models.RetrievedChunk) string {
	context := FormatContext(chunks)
	if mode == models.ModeFast {
		return fmt.Sprintf(fastTemplate, context, question)
	}
	return fmt.Sprintf(qualityTemplate, context, question)
}

// FormatContext renders chunks as numbered context blocks:
//
//	Document 1 (Source: report.pdf):
//	<chunk text>
//
// Blocks are separated by blank lines and ordered as given (best match
// first).
func FormatContext(chunks []models.RetrievedChunk) string {
	blocks := make([]string, len(chunks))
	for i, rc := range chunks {
		source := rc.Chunk.Metadata["source"]
		if source == "" {
			source = "Unknown"
		}
		blocks[i] = fmt.Sprintf("Document %d (Source: %s):\n%s", i+1, source, strings.TrimSpace(rc.Chunk.Text))
	}
	return strings.Join(blocks, "\n\n")
}
