package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotaeru/internal/chunker"
	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/extract"
	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/keyword"
	"github.com/hyperjump/kotaeru/internal/llm"
	"github.com/hyperjump/kotaeru/internal/loader"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/qa"
	"github.com/hyperjump/kotaeru/internal/retriever"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/synthesis"
	"github.com/hyperjump/kotaeru/internal/vector"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *llm.MockClient) {
	t.Helper()
	embedder := embedding.NewMockEmbedder(64)
	store := vector.NewMemoryStore()
	sqlite, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	kw, err := keyword.NewMemOnlyIndex()
	if err != nil {
		t.Fatalf("NewMemOnlyIndex() error: %v", err)
	}
	t.Cleanup(func() { kw.Close() })

	ck, err := chunker.New(200, 40)
	if err != nil {
		t.Fatalf("chunker.New() error: %v", err)
	}
	manager := index.NewManager(store, "test", 64)
	indexer := index.NewIndexer(loader.New(extract.NewExtractor()), ck, embedder, manager, sqlite, kw)
	r := retriever.New(embedder, store, "test", retriever.WithKeywordFallback(kw, sqlite))
	client := llm.NewMockClient()
	s := synthesis.New(client, map[models.Mode]synthesis.ModeParams{
		models.ModeFast:    {Model: "gpt-3.5-turbo", MaxTokens: 400},
		models.ModeQuality: {Model: "gpt-4-turbo-preview", MaxTokens: 1000},
	})
	engine := qa.New(r, s, indexer, qa.Params{
		DefaultMode:       models.ModeFast,
		FastK:             3,
		QualityK:          4,
		FastLatencyTarget: 2 * time.Second,
	})

	var cfg config.Config
	config.ApplyDefaults(&cfg)
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "nonexistent.db")
	cfg.Storage.KeywordIndexPath = filepath.Join(t.TempDir(), "nonexistent.bleve")
	return NewServer(engine, sqlite, &cfg, zap.NewNop()), client
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestIndexDocumentAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/documents", documentRequest{
		ID:       "doc:geo",
		Text:     "Paris is the capital of France. France is in western Europe.",
		Metadata: map[string]string{"source": "geography.txt"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("index status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/query", queryRequest{
		Question: "What is the capital of France?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result models.QueryResult
	decodeBody(t, rec, &result)
	if !strings.Contains(result.Answer, "Paris") {
		t.Errorf("answer %q does not mention Paris", result.Answer)
	}
	if len(result.Sources) == 0 {
		t.Error("expected at least one source")
	}
}

func TestIndexDocumentGeneratesID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/documents", documentRequest{
		Text: "The printing press was invented by Johannes Gutenberg.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("expected a generated document id")
	}
	if len(id) != 36 {
		t.Errorf("id %q is not a UUID", id)
	}
}

func TestIndexDocumentRequiresText(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/documents", documentRequest{ID: "doc:empty"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestQueryBadMode(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/query", queryRequest{
		Question: "anything",
		Mode:     "turbo",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/query", queryRequest{
		Question: "What is the capital of France?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result models.QueryResult
	decodeBody(t, rec, &result)
	if result.Answer != qa.EmptyIndexAnswer {
		t.Errorf("answer = %q, want empty-index answer", result.Answer)
	}
}

func TestQueryProviderFailure(t *testing.T) {
	srv, client := newTestServer(t)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/documents", documentRequest{
		ID:   "doc:geo",
		Text: "Paris is the capital of France.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("index status = %d, body %s", rec.Code, rec.Body.String())
	}

	client.FailCalls = 100
	rec = doRequest(t, h, http.MethodPost, "/api/v1/query", queryRequest{
		Question: "What is the capital of France?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var result models.QueryResult
	decodeBody(t, rec, &result)
	if !result.Failed {
		t.Fatalf("result = %+v, want Failed", result)
	}
	if !strings.HasPrefix(result.Answer, qa.FailedAnswerPrefix) {
		t.Errorf("answer = %q, want %q prefix", result.Answer, qa.FailedAnswerPrefix)
	}
	if result.Latency <= 0 {
		t.Error("failed result must still carry latency")
	}
}

func TestIndexPathDirectory(t *testing.T) {
	srv, _ := newTestServer(t)
	dir := t.TempDir()
	for i, text := range []string{
		"Paris is the capital of France.",
		"Photosynthesis happens in chloroplasts.",
	} {
		path := filepath.Join(dir, fmt.Sprintf("doc%d.txt", i))
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/index", indexPathRequest{Path: dir})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result index.Result
	decodeBody(t, rec, &result)
	if result.Documents != 2 {
		t.Errorf("documents = %d, want 2", result.Documents)
	}
	if result.Chunks == 0 {
		t.Error("expected chunks to be indexed")
	}
}

func TestIndexPathNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/index", indexPathRequest{
		Path: filepath.Join(t.TempDir(), "missing"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetAndDeleteDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/documents", documentRequest{
		ID:   "doc:bio",
		Text: "Photosynthesis converts light energy into chemical energy.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("index status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/documents/doc:bio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var doc models.Document
	decodeBody(t, rec, &doc)
	if doc.ID != "doc:bio" {
		t.Errorf("id = %q, want doc:bio", doc.ID)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/documents/doc:bio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/documents/doc:bio", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestClearAndStats(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/documents", documentRequest{
		ID:   "doc:hist",
		Text: "The printing press was invented in the fifteenth century.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("index status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats map[string]interface{}
	decodeBody(t, rec, &stats)
	if got := stats["documents"].(float64); got != 1 {
		t.Errorf("documents = %v, want 1", got)
	}
	if stats["config"] == nil {
		t.Error("expected config block in stats")
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/documents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/stats", nil)
	decodeBody(t, rec, &stats)
	if got := stats["documents"].(float64); got != 0 {
		t.Errorf("documents after clear = %v, want 0", got)
	}
	if got := stats["vectors"].(float64); got != 0 {
		t.Errorf("vectors after clear = %v, want 0", got)
	}
}
