package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotaeru/internal/models"
	"go.uber.org/zap"
)

// pointIDNamespace is the UUID namespace used to derive Qdrant point IDs.
// Qdrant only accepts UUIDs or unsigned integers as point IDs, so string
// chunk IDs are mapped to deterministic UUIDs; the original ID is kept in
// the payload.
var pointIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

const payloadKeyPointID = "_id"

// QdrantStore talks to a Qdrant server over its REST API.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger // optional
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantOption configures a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) QdrantOption {
	return func(q *QdrantStore) { q.logger = l }
}

// NewQdrantStore creates a Qdrant REST client. It does not contact the
// server; the first EnsureCollection call does.
func NewQdrantStore(cfg QdrantConfig, opts ...QdrantOption) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.doJSON(ctx, http.MethodGet, "/collections/"+collection, nil, &info)
	if err == nil {
		if got := info.Result.Config.Params.Vectors.Size; got != dimensions {
			return &models.DimensionMismatchError{Got: dimensions, Want: got}
		}
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	if err := q.doJSON(ctx, http.MethodPut, "/collections/"+collection, body, nil); err != nil {
		return fmt.Errorf("create collection %q: %w", collection, err)
	}
	if q.logger != nil {
		q.logger.Debug("qdrant collection created",
			zap.String("collection", collection), zap.Int("dimensions", dimensions))
	}
	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]map[string]any, len(points))
	for i, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadKeyPointID] = p.ID
		qdrantPoints[i] = map[string]any{
			"id":      uuid.NewSHA1(pointIDNamespace, []byte(p.ID)).String(),
			"vector":  p.Vector,
			"payload": payload,
		}
	}
	body := map[string]any{"points": qdrantPoints}
	if err := q.doJSON(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for key, value := range filter {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := Hit{Score: r.Score, Payload: make(map[string]string, len(r.Payload))}
		for key, value := range r.Payload {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if key == payloadKeyPointID {
				hit.ID = s
				continue
			}
			hit.Payload[key] = s
		}
		hits = append(hits, hit)
	}
	// Qdrant orders by score but not by ID within equal scores.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

func (q *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = uuid.NewSHA1(pointIDNamespace, []byte(id)).String()
	}
	body := map[string]any{"points": pointIDs}
	if err := q.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil); err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"exact": true}
	if err := q.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &resp); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return resp.Result.Count, nil
}

func (q *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := q.doJSON(ctx, http.MethodDelete, "/collections/"+collection, nil, nil); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (q *QdrantStore) Close() error {
	return nil
}

func (q *QdrantStore) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
