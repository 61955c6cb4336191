package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// chunkEntry is the shape Bleve indexes for each chunk.
type chunkEntry struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func indexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact words
	// match without surprise stem collisions.
	textFieldMapping.Analyzer = standard.Name
	chunkMapping.AddFieldMappingsAt("content", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("source", textFieldMapping)
	im.DefaultMapping = chunkMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// opened and reused, which keeps keyword search working across restarts
// without a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemOnlyIndex creates an in-memory Bleve index, mainly for tests.
func NewMemOnlyIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(indexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Add indexes a chunk, replacing any previous entry with the same ID.
func (b *BleveIndex) Add(ctx context.Context, chunkID, text, source string) error {
	return b.index.Index(chunkID, chunkEntry{Content: text, Source: source})
}

// Search runs a match query over chunk contents and sources.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes a chunk from the index.
func (b *BleveIndex) Delete(ctx context.Context, chunkID string) error {
	return b.index.Delete(chunkID)
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
