package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestQdrantStoreEnsureCollectionCreates(t *testing.T) {
	var created struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			http.NotFound(w, r)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	store := NewQdrantStore(QdrantConfig{URL: srv.URL})
	if err := store.EnsureCollection(context.Background(), "docs", 1536); err != nil {
		t.Fatalf("EnsureCollection() error: %v", err)
	}
	if created.Vectors.Size != 1536 || created.Vectors.Distance != "Cosine" {
		t.Errorf("create body = %+v, want size 1536 distance Cosine", created.Vectors)
	}
}

func TestQdrantStoreUpsertDerivesUUIDs(t *testing.T) {
	var got struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/collections/docs/points" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Error("upsert missing wait=true")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode upsert body: %v", err)
		}
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	}))
	defer srv.Close()

	store := NewQdrantStore(QdrantConfig{URL: srv.URL})
	points := []Point{{
		ID:      "doc:abc_0001",
		Vector:  []float32{0.1, 0.2},
		Payload: map[string]string{"text": "hello"},
	}}
	if err := store.Upsert(context.Background(), "docs", points); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if len(got.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(got.Points))
	}
	if _, err := uuid.Parse(got.Points[0].ID); err != nil {
		t.Errorf("point ID %q is not a UUID: %v", got.Points[0].ID, err)
	}
	if got.Points[0].Payload["_id"] != "doc:abc_0001" {
		t.Errorf("payload _id = %v, want original chunk ID", got.Points[0].Payload["_id"])
	}
	if got.Points[0].Payload["text"] != "hello" {
		t.Errorf("payload text = %v, want hello", got.Points[0].Payload["text"])
	}
}

func TestQdrantStoreSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode search body: %v", err)
		}
		if req["limit"].(float64) != 2 {
			t.Errorf("limit = %v, want 2", req["limit"])
		}
		if req["with_payload"] != true {
			t.Error("search missing with_payload")
		}
		if _, ok := req["filter"]; !ok {
			t.Error("search missing filter")
		}
		w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"_id":"chunk-a","text":"alpha"}},
			{"score":0.42,"payload":{"_id":"chunk-b","text":"beta"}}
		],"status":"ok"}`))
	}))
	defer srv.Close()

	store := NewQdrantStore(QdrantConfig{URL: srv.URL})
	hits, err := store.Search(context.Background(), "docs", []float32{1, 0}, 2, map[string]string{"document_id": "doc1"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "chunk-a" || hits[0].Score != 0.91 {
		t.Errorf("hits[0] = %+v, want chunk-a score 0.91", hits[0])
	}
	if hits[0].Payload["text"] != "alpha" {
		t.Errorf("hits[0] payload = %v, want text alpha", hits[0].Payload)
	}
	if _, ok := hits[0].Payload["_id"]; ok {
		t.Error("internal _id key leaked into payload")
	}
}

func TestQdrantStoreCountAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/docs/points/count" {
			w.Write([]byte(`{"result":{"count":42},"status":"ok"}`))
			return
		}
		http.Error(w, `{"status":{"error":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewQdrantStore(QdrantConfig{URL: srv.URL})
	n, err := store.Count(context.Background(), "docs")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}
	if err := store.Upsert(context.Background(), "docs", []Point{{ID: "x", Vector: []float32{1}}}); err == nil {
		t.Error("Upsert() against failing server expected error")
	}
}

func TestQdrantStoreSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key header = %q, want secret", r.Header.Get("api-key"))
		}
		w.Write([]byte(`{"result":{"count":0},"status":"ok"}`))
	}))
	defer srv.Close()

	store := NewQdrantStore(QdrantConfig{URL: srv.URL, APIKey: "secret"})
	if _, err := store.Count(context.Background(), "docs"); err != nil {
		t.Fatalf("Count() error: %v", err)
	}
}
