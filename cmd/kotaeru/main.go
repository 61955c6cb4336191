// Package main is the Kotaeru CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/chunker"
	"github.com/hyperjump/kotaeru/internal/cli"
	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/docid"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/extract"
	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/keyword"
	"github.com/hyperjump/kotaeru/internal/llm"
	"github.com/hyperjump/kotaeru/internal/loader"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/qa"
	"github.com/hyperjump/kotaeru/internal/retriever"
	"github.com/hyperjump/kotaeru/internal/server"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/synthesis"
	"github.com/hyperjump/kotaeru/internal/vector"
	"github.com/hyperjump/kotaeru/internal/watcher"
	"github.com/hyperjump/kotaeru/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotaeru/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory so running from the project dir
// uses the project's config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		runServe()
	case "query", "ask":
		runQuery()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "clear":
		runClear()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("kotaeru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", true, "watch configured directories for changes")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if *watch && len(cfg.Watch.Directories) > 0 {
		engine := components.Engine
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, _, err := engine.IndexFile(context.Background(), path); err != nil {
					logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if err := engine.DeleteDocument(context.Background(), docid.FromPath(path)); err != nil {
					logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.SyncExistingFiles()
	}

	srv := server.NewServer(components.Engine, components.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// queryArgsReorder moves flags that appear after the question to the front so
// flag.Parse sees them. The flag package stops at the first non-flag argument.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuestion joins positional args with spaces so multi-word questions
// work with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "json":
		return cli.OutputJSON, nil
	case "text", "":
		return cli.OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runQuery() {
	args := queryArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = run the pipeline in-process)")
	mode := fs.String("mode", "", "answer mode: fast or quality (default from config)")
	verbose := fs.Bool("verbose", false, "include the synthesis prompt in the output")
	interactive := fs.Bool("i", false, "interactive mode: read questions from stdin (implied when no question is given)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(args)

	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ask := func(question string) (*models.QueryResult, error) {
		if *serverURL != "" {
			return queryViaHTTP(*serverURL, question, *mode, *verbose)
		}
		return nil, nil
	}
	if *serverURL == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		ask = func(question string) (*models.QueryResult, error) {
			return components.Engine.Query(context.Background(), question, qa.QueryOptions{
				Mode:    models.Mode(*mode),
				Verbose: *verbose,
			})
		}
	}

	question := buildQuestion(fs.Args())
	if *interactive || question == "" {
		runREPL(ask, format)
		return
	}
	result, err := ask(question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteQueryResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runREPL(ask func(string) (*models.QueryResult, error), format cli.OutputFormat) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Ask a question (empty line or Ctrl-D to quit):")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			return
		}
		result, err := ask(question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			continue
		}
		if err := cli.WriteQueryResult(os.Stdout, result, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		}
	}
}

func queryViaHTTP(serverURL, question, mode string, verbose bool) (*models.QueryResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"question": question,
		"mode":     mode,
		"verbose":  verbose,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var result models.QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	glob := fs.String("glob", "", "filename pattern to match (e.g. *.md)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotaeru index [flags] <path>...")
		os.Exit(1)
	}
	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	total := index.Result{}
	for _, arg := range fs.Args() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid path %q: %v\n", arg, err)
			os.Exit(1)
		}
		info, err := os.Stat(abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot stat %q: %v\n", abs, err)
			os.Exit(1)
		}
		if info.IsDir() {
			result, err := components.Engine.IndexDirectory(ctx, abs, *glob)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Indexing %q failed: %v\n", abs, err)
				os.Exit(1)
			}
			total.Documents += result.Documents
			total.Chunks += result.Chunks
			total.Skipped += result.Skipped
			continue
		}
		chunks, skipped, err := components.Engine.IndexFile(ctx, abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing %q failed: %v\n", abs, err)
			os.Exit(1)
		}
		if skipped {
			total.Skipped++
		} else {
			total.Documents++
			total.Chunks += chunks
		}
	}
	if err := cli.WriteIndexResult(os.Stdout, &total, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	byPath := fs.Bool("path", false, "treat the argument as a file path rather than a document ID")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		fmt.Println("Usage: kotaeru delete [flags] <document-id|path>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	if *byPath {
		abs, err := filepath.Abs(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid path %q: %v\n", id, err)
			os.Exit(1)
		}
		id = docid.FromPath(abs)
	}

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	if err := components.Engine.DeleteDocument(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", id)
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	_ = fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Print("This removes every indexed document. Continue? [y/N] ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			fmt.Println("Aborted.")
			return
		}
	}

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	if err := components.Engine.Clear(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Index cleared.")
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	stats, err := components.Engine.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	diskBytes, _ := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.KeywordIndexPath)
	if err := cli.WriteStats(os.Stdout, stats, diskBytes, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func mustInitialize(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, logger
}

// Components holds the wired pipeline and its closeable resources.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorStore  vector.Store
	KeywordIndex keyword.Index
	LLMClient    llm.Client
	Indexer      *index.Indexer
	Engine       *qa.Engine
}

// Close releases resources in reverse dependency order.
func (c *Components) Close() {
	if c.LLMClient != nil {
		_ = c.LLMClient.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.VectorStore != nil {
		_ = c.VectorStore.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	if cfg.Embedding.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using mock embeddings")
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder, err = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.Timeout),
			MaxRetries: cfg.Embedding.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	embedder = embedding.NewCachingEmbedder(embedder, cfg.Embedding.CacheSize)

	var vectorStore vector.Store
	switch cfg.Vector.Backend {
	case "memory":
		vectorStore = vector.NewMemoryStore()
	default:
		qdrantOpts := []vector.QdrantOption{}
		if debug {
			qdrantOpts = append(qdrantOpts, vector.WithLogger(logger))
		}
		vectorStore = vector.NewQdrantStore(vector.QdrantConfig{
			URL:     cfg.Vector.URL,
			APIKey:  cfg.Vector.APIKey,
			Timeout: time.Duration(cfg.Vector.Timeout),
		}, qdrantOpts...)
	}
	logger.Info("vector store initialized", zap.String("backend", cfg.Vector.Backend))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	var client llm.Client
	if cfg.LLM.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using mock completions")
		client = llm.NewMockClient()
	} else {
		client, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize completion client: %w", err)
		}
	}

	ck, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	managerOpts := []index.ManagerOption{
		index.WithBatchSize(cfg.Vector.UpsertBatchSize),
		index.WithMaxRetries(cfg.Vector.MaxRetries),
	}
	if debug {
		managerOpts = append(managerOpts, index.WithLogger(logger))
	}
	manager := index.NewManager(vectorStore, cfg.Vector.Namespace, cfg.Embedding.Dimensions, managerOpts...)

	loaderOpts := []loader.LoaderOption{}
	indexerOpts := []index.IndexerOption{}
	retrieverOpts := []retriever.Option{retriever.WithKeywordFallback(keywordIndex, store)}
	synthOpts := []synthesis.Option{synthesis.WithMaxAttempts(cfg.LLM.MaxRetries)}
	engineOpts := []qa.Option{}
	if debug {
		loaderOpts = append(loaderOpts, loader.WithLogger(logger))
		indexerOpts = append(indexerOpts, index.WithIndexerLogger(logger))
		retrieverOpts = append(retrieverOpts, retriever.WithLogger(logger))
		synthOpts = append(synthOpts, synthesis.WithLogger(logger))
		engineOpts = append(engineOpts, qa.WithLogger(logger))
	}

	ld := loader.New(extract.NewExtractor(), loaderOpts...)
	indexer := index.NewIndexer(ld, ck, embedder, manager, store, keywordIndex, indexerOpts...)
	r := retriever.New(embedder, vectorStore, cfg.Vector.Namespace, retrieverOpts...)
	s := synthesis.New(client, map[models.Mode]synthesis.ModeParams{
		models.ModeFast: {
			Model:       cfg.LLM.FastModel,
			MaxTokens:   cfg.LLM.FastMaxTokens,
			Temperature: cfg.LLM.Temperature,
		},
		models.ModeQuality: {
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		},
	}, synthOpts...)
	engine := qa.New(r, s, indexer, qa.Params{
		DefaultMode:       cfg.ModeOrDefault(),
		FastK:             cfg.Retrieval.FastK,
		QualityK:          cfg.Retrieval.QualityK,
		FastLatencyTarget: time.Duration(cfg.Retrieval.FastLatencyTarget),
	}, engineOpts...)

	return &Components{
		Storage:      store,
		Embedder:     embedder,
		VectorStore:  vectorStore,
		KeywordIndex: keywordIndex,
		LLMClient:    client,
		Indexer:      indexer,
		Engine:       engine,
	}, nil
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotaeru query [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces; quoting is optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotaeru query what is the deployment process
  kotaeru query -mode quality "how does the billing reconciliation work?"
  kotaeru query -server http://localhost:8087 -output json what ports does the service use
  kotaeru query              # interactive loop
`)
}

func printUsage() {
	fmt.Printf(`kotaeru %s - document question answering over your own files

Usage: kotaeru <command> [flags]

Commands:
  serve     Start the HTTP API server (watches configured directories)
  index     Index a file or directory
  query     Ask a question over the indexed documents (alias: ask)
  delete    Remove a document from the index
  clear     Remove every indexed document
  stats     Show index statistics
  version   Show version
  help      Show this help

Run 'kotaeru <command> -h' for command flags.
`, version)
}
