package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotaeru/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	doc := &models.Document{
		ID:         "doc:abc",
		SourcePath: "/docs/report.txt",
		Text:       "full text that must not be persisted",
		Metadata:   map[string]string{"source": "report.txt", "source_size": "36"},
	}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument() error: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc:abc")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if got.Text != "" {
		t.Errorf("document text was persisted: %q", got.Text)
	}
	if got.SourcePath != "/docs/report.txt" {
		t.Errorf("SourcePath = %q", got.SourcePath)
	}
	if got.Metadata["source"] != "report.txt" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestUpsertDocumentReplacesChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	doc := &models.Document{ID: "doc:1", SourcePath: "/a.txt"}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument() error: %v", err)
	}
	chunks := []*models.Chunk{
		{ID: "c1", DocumentID: "doc:1", Text: "one", Index: 0, End: 3},
		{ID: "c2", DocumentID: "doc:1", Text: "two", Index: 1, Start: 3, End: 6},
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error: %v", err)
	}

	// Re-upserting the document clears its old chunks.
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument() second error: %v", err)
	}
	n, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error: %v", err)
	}
	if n != 0 {
		t.Errorf("CountChunks() = %d after document re-upsert, want 0", n)
	}
	nd, err := s.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("CountDocuments() error: %v", err)
	}
	if nd != 1 {
		t.Errorf("CountDocuments() = %d, want 1", nd)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.UpsertDocument(ctx, &models.Document{ID: "doc:1", SourcePath: "/a.txt"}); err != nil {
		t.Fatalf("UpsertDocument() error: %v", err)
	}
	chunks := []*models.Chunk{
		{ID: "c2", DocumentID: "doc:1", Text: "second", Index: 1, Start: 5, End: 11, Metadata: map[string]string{"source": "a.txt"}},
		{ID: "c1", DocumentID: "doc:1", Text: "first", Index: 0, Start: 0, End: 5},
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error: %v", err)
	}

	got, err := s.GetChunk(ctx, "c2")
	if err != nil {
		t.Fatalf("GetChunk() error: %v", err)
	}
	if got.Text != "second" || got.Start != 5 || got.End != 11 || got.Index != 1 {
		t.Errorf("GetChunk() = %+v", got)
	}
	if got.Metadata["source"] != "a.txt" {
		t.Errorf("chunk metadata = %v", got.Metadata)
	}

	byDoc, err := s.GetChunksByDocumentID(ctx, "doc:1")
	if err != nil {
		t.Fatalf("GetChunksByDocumentID() error: %v", err)
	}
	if len(byDoc) != 2 || byDoc[0].ID != "c1" || byDoc[1].ID != "c2" {
		t.Errorf("chunks not ordered by index: %v", []string{byDoc[0].ID, byDoc[1].ID})
	}
}

func TestUpsertChunksIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if err := s.UpsertDocument(ctx, &models.Document{ID: "doc:1", SourcePath: "/a.txt"}); err != nil {
		t.Fatalf("UpsertDocument() error: %v", err)
	}
	chunk := &models.Chunk{ID: "c1", DocumentID: "doc:1", Text: "v1", End: 2}
	if err := s.UpsertChunks(ctx, []*models.Chunk{chunk}); err != nil {
		t.Fatalf("UpsertChunks() error: %v", err)
	}
	chunk.Text = "v2"
	if err := s.UpsertChunks(ctx, []*models.Chunk{chunk}); err != nil {
		t.Fatalf("UpsertChunks() second error: %v", err)
	}
	n, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountChunks() = %d after re-upsert, want 1", n)
	}
	got, err := s.GetChunk(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChunk() error: %v", err)
	}
	if got.Text != "v2" {
		t.Errorf("chunk text = %q, want v2", got.Text)
	}
}

func TestDeleteDocumentAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, id := range []string{"doc:1", "doc:2"} {
		if err := s.UpsertDocument(ctx, &models.Document{ID: id, SourcePath: "/" + id}); err != nil {
			t.Fatalf("UpsertDocument(%s) error: %v", id, err)
		}
		if err := s.UpsertChunks(ctx, []*models.Chunk{{ID: id + "_c", DocumentID: id, Text: "x", End: 1}}); err != nil {
			t.Fatalf("UpsertChunks(%s) error: %v", id, err)
		}
	}

	if err := s.DeleteDocument(ctx, "doc:1"); err != nil {
		t.Fatalf("DeleteDocument() error: %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc:1"); err == nil {
		t.Error("GetDocument(deleted) expected error")
	}
	if _, err := s.GetChunk(ctx, "doc:1_c"); err == nil {
		t.Error("GetChunk(deleted doc) expected error")
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error: %v", err)
	}
	nd, _ := s.CountDocuments(ctx)
	nc, _ := s.CountChunks(ctx)
	if nd != 0 || nc != 0 {
		t.Errorf("after DeleteAll: %d documents %d chunks, want 0 0", nd, nc)
	}
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for _, id := range []string{"doc:1", "doc:2", "doc:3"} {
		if err := s.UpsertDocument(ctx, &models.Document{ID: id, SourcePath: "/" + id}); err != nil {
			t.Fatalf("UpsertDocument(%s) error: %v", id, err)
		}
	}
	docs, err := s.ListDocuments(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListDocuments() error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStorage(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	defer s.Close()

	n, err := DiskUsageBytes(dir, filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("DiskUsageBytes() error: %v", err)
	}
	if n <= 0 {
		t.Errorf("DiskUsageBytes() = %d, want > 0", n)
	}
}
