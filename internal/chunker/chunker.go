// Package chunker splits document text into overlapping character windows.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hyperjump/kotaeru/internal/models"
)

// Chunker splits text into fixed-size character windows with overlap.
// Splitting is deterministic: the same document and parameters always
// produce byte-identical chunks with identical IDs.
type Chunker struct {
	size      int
	overlap   int
	paramsKey string
}

// New creates a chunker. size and overlap are in characters (runes);
// overlap must be smaller than size. Violations wrap models.ErrConfiguration.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", models.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)",
			models.ErrConfiguration, overlap, size)
	}
	return &Chunker{
		size:      size,
		overlap:   overlap,
		paramsKey: paramsHash(size, overlap),
	}, nil
}

// Split slides a window of the configured size across the document text,
// advancing by size-overlap each step. The final window is clipped to the
// remaining text, so only the last chunk may be shorter than size. Text no
// longer than one window yields exactly one chunk. Empty text yields nil.
func (c *Chunker) Split(doc models.Document) []models.Chunk {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]models.Chunk, 0, 1+(len(runes)-1)/step)
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, models.Chunk{
			ID:         c.ChunkID(doc.ID, idx),
			DocumentID: doc.ID,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
			Index:      idx,
			Metadata:   chunkMetadata(doc, idx),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkID returns the deterministic ID for the chunk at seq of the given
// document. IDs are keyed on the chunking parameters as well as the
// document, so a reindex with different size/overlap cannot collide with
// chunks written under the old parameterization.
func (c *Chunker) ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s_%s_%04d", docID, c.paramsKey, seq)
}

// Size returns the configured window size in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

func chunkMetadata(doc models.Document, idx int) map[string]string {
	md := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md["chunk_index"] = fmt.Sprintf("%d", idx)
	return md
}

func paramsHash(size, overlap int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", size, overlap)))
	return hex.EncodeToString(h[:4])
}
