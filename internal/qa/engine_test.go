package qa

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotaeru/internal/chunker"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/extract"
	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/keyword"
	"github.com/hyperjump/kotaeru/internal/llm"
	"github.com/hyperjump/kotaeru/internal/loader"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/retriever"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/synthesis"
	"github.com/hyperjump/kotaeru/internal/vector"
)

type fixture struct {
	engine   *Engine
	embedder *toggleEmbedder
	client   *llm.MockClient
}

// toggleEmbedder lets tests make the embedding provider fail on demand.
type toggleEmbedder struct {
	*embedding.MockEmbedder
	failing bool
}

func (t *toggleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if t.failing {
		return nil, &models.EmbeddingError{Err: errors.New("provider down")}
	}
	return t.MockEmbedder.Embed(ctx, text)
}

func (t *toggleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if t.failing {
		return nil, &models.EmbeddingError{Err: errors.New("provider down")}
	}
	return t.MockEmbedder.EmbedBatch(ctx, texts)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder := &toggleEmbedder{MockEmbedder: embedding.NewMockEmbedder(64)}
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
	engine := New(r, s, indexer, Params{
		DefaultMode:       models.ModeFast,
		FastK:             3,
		QualityK:          4,
		FastLatencyTarget: 2 * time.Second,
	})
	return &fixture{engine: engine, embedder: embedder, client: client}
}

func (f *fixture) indexCorpus(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	docs := []*models.Document{
		{
			ID:         "doc:geo",
			SourcePath: "/corpus/geography.txt",
			Text:       "Paris is the capital of France. France is in western Europe and its largest city is Paris.",
			Metadata:   map[string]string{"source": "geography.txt"},
		},
		{
			ID:         "doc:bio",
			SourcePath: "/corpus/biology.txt",
			Text:       "Photosynthesis converts light energy into chemical energy inside plant chloroplasts.",
			Metadata:   map[string]string{"source": "biology.txt"},
		},
		{
			ID:         "doc:hist",
			SourcePath: "/corpus/history.txt",
			Text:       "The printing press was invented by Johannes Gutenberg in the fifteenth century.",
			Metadata:   map[string]string{"source": "history.txt"},
		},
	}
	for _, doc := range docs {
		if _, err := f.engine.IndexDocument(ctx, doc); err != nil {
			t.Fatalf("IndexDocument(%s) error: %v", doc.ID, err)
		}
	}
}

func TestFastModeAnswersFromCorpus(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)

	start := time.Now()
	result, err := f.engine.Query(context.Background(), "What is the capital of France?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	elapsed := time.Since(start)

	if !strings.Contains(result.Answer, "Paris") {
		t.Errorf("answer = %q, want it to mention Paris", result.Answer)
	}
	if len(result.Sources) == 0 {
		t.Fatal("result has no sources")
	}
	if result.Sources[0].DocumentID != "doc:geo" {
		t.Errorf("top source = %s, want doc:geo", result.Sources[0].DocumentID)
	}
	if result.Failed || result.Degraded {
		t.Errorf("result flags = failed %v degraded %v, want clean", result.Failed, result.Degraded)
	}
	if result.Latency <= 0 {
		t.Error("latency not measured")
	}
	if elapsed > 2*time.Second {
		t.Errorf("fast mode took %v, want under 2s", elapsed)
	}
	// Fast mode uses the cheap model with the short prompt.
	if got := f.client.Opts[0].Model; got != "gpt-3.5-turbo" {
		t.Errorf("fast mode model = %q, want gpt-3.5-turbo", got)
	}
	if strings.Contains(f.client.Calls[0], "chain-of-thought") {
		t.Error("fast mode used the chain-of-thought prompt")
	}
}

func TestQualityModeUsesDeepPromptAndMoreContext(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)

	result, err := f.engine.Query(context.Background(), "What is the capital of France?", QueryOptions{Mode: models.ModeQuality})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if result.Failed {
		t.Error("result marked failed")
	}
	if got := f.client.Opts[0].Model; got != "gpt-4-turbo-preview" {
		t.Errorf("quality mode model = %q, want gpt-4-turbo-preview", got)
	}
	if !strings.Contains(f.client.Calls[0], "chain-of-thought reasoning") {
		t.Error("quality mode prompt missing chain-of-thought instructions")
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Query(context.Background(), "anything?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if result.Answer != EmptyIndexAnswer {
		t.Errorf("answer = %q, want empty-index answer", result.Answer)
	}
	if result.Failed {
		t.Error("empty index is not a failure")
	}
	if result.Latency <= 0 {
		t.Error("latency not measured")
	}
	if len(f.client.Calls) != 0 {
		t.Errorf("provider saw %d calls, want 0", len(f.client.Calls))
	}
}

func TestQueryDegradesToKeywordOnEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)
	f.embedder.failing = true

	result, err := f.engine.Query(context.Background(), "capital France", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if !result.Degraded {
		t.Error("result not marked degraded")
	}
	if result.Failed {
		t.Error("degraded result must not be failed")
	}
	if len(result.Sources) == 0 {
		t.Fatal("degraded result has no sources")
	}
	if result.Sources[0].DocumentID != "doc:geo" {
		t.Errorf("top source = %s, want doc:geo via keyword match", result.Sources[0].DocumentID)
	}
	if !strings.Contains(result.Answer, "Paris") {
		t.Errorf("answer = %q, want it grounded in the geography chunk", result.Answer)
	}
}

func TestQueryFailsWhenSynthesisExhausted(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)
	f.client.FailCalls = 100

	result, err := f.engine.Query(context.Background(), "capital of France?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v, want failed result instead", err)
	}
	if result == nil || !result.Failed {
		t.Fatalf("result = %+v, want Failed", result)
	}
	if !strings.HasPrefix(result.Answer, FailedAnswerPrefix) {
		t.Errorf("Answer = %q, want %q prefix", result.Answer, FailedAnswerPrefix)
	}
	if !strings.Contains(result.Answer, "attempts") {
		t.Errorf("Answer = %q, want the synthesis failure explained", result.Answer)
	}
	if result.Latency <= 0 {
		t.Error("failed result must still carry latency")
	}
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)
	_, err := f.engine.Query(context.Background(), "q", QueryOptions{Mode: "turbo"})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Query(mode=turbo) error = %v, want ErrConfiguration", err)
	}
}

func TestQueryVerboseIncludesPrompt(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)

	verbose, err := f.engine.Query(context.Background(), "capital of France?", QueryOptions{Verbose: true})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if verbose.Prompt == "" || !strings.Contains(verbose.Prompt, "capital of France?") {
		t.Errorf("verbose prompt = %q, want the synthesis prompt", verbose.Prompt)
	}

	quiet, err := f.engine.Query(context.Background(), "capital of France?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if quiet.Prompt != "" {
		t.Errorf("non-verbose prompt = %q, want empty", quiet.Prompt)
	}
}

func TestIrrelevantQuestionStillGetsRankedSources(t *testing.T) {
	f := newFixture(t)
	f.indexCorpus(t)

	result, err := f.engine.Query(context.Background(), "How does photosynthesis work in plants?", QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(result.Sources) == 0 {
		t.Fatal("no sources returned")
	}
	if result.Sources[0].DocumentID != "doc:bio" {
		t.Errorf("top source = %s, want doc:bio", result.Sources[0].DocumentID)
	}
	for i := 1; i < len(result.Sources); i++ {
		if result.Sources[i-1].Score < result.Sources[i].Score {
			t.Errorf("sources not sorted by score: %f < %f at %d",
				result.Sources[i-1].Score, result.Sources[i].Score, i)
		}
	}
}
