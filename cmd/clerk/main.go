// Clerk is a conversational assistant for a business record system.
//
// It exposes an HTTP and WebSocket API for chat, grounded document
// answering, session management, and tool provider administration,
// plus a CLI for one-shot questions and document ingestion.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	clerk serve                          Start the API server
//	clerk ask <question>                 Ask a single question (for testing)
//	clerk ingest <collection> <file>     Import a document into a collection
//	clerk version                        Print version and build information
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/clerk-agent/clerk/internal/agent"
	"github.com/clerk-agent/clerk/internal/api"
	"github.com/clerk-agent/clerk/internal/buildinfo"
	"github.com/clerk-agent/clerk/internal/checkpoint"
	"github.com/clerk-agent/clerk/internal/config"
	"github.com/clerk-agent/clerk/internal/connwatch"
	"github.com/clerk-agent/clerk/internal/embeddings"
	"github.com/clerk-agent/clerk/internal/llm"
	"github.com/clerk-agent/clerk/internal/mcp"
	"github.com/clerk-agent/clerk/internal/odoo"
	"github.com/clerk-agent/clerk/internal/provider"
	"github.com/clerk-agent/clerk/internal/rag"
	"github.com/clerk-agent/clerk/internal/tools"
	"github.com/clerk-agent/clerk/internal/transcript"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the clerk command. All OS-level
// dependencies are injected so the lifecycle can be driven from tests.
// Arguments are parsed by hand: the flag package relies on package
// globals, which makes concurrent test runs awkward, and the argument
// surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: clerk ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: clerk ingest <collection> <file>")
		}
		return runIngest(ctx, stdout, stderr, configPath, cmdArgs[0], cmdArgs[1])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Clerk - Record System Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: clerk [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the API server")
	fmt.Fprintln(w, "  ask <question>             Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest <collection> <file> Import a document into a collection")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk handles "clerk ask <question>". It boots a minimal agent over
// an in-memory database and processes a single question, printing the
// response to stdout. Useful for smoke tests without starting the
// server.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	// Nothing to persist for a one-shot question.
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	checkpoints, err := checkpoint.NewStore(db)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	transcripts, err := transcript.NewStore(db)
	if err != nil {
		return fmt.Errorf("transcript store: %w", err)
	}

	builtins, _ := builtinTools(cfg, logger)
	manager := mcp.NewManager(logger, builtins...)
	llmClient := createLLMClient(cfg)

	loop := agent.NewLoop(logger, llmClient, cfg.Models.Default, manager,
		checkpoints, transcripts, cfg.Agent.MaxIterations)

	result, err := loop.Run(ctx, &agent.Request{
		SessionID: "cli",
		Message:   question,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Content)
	return nil
}

// runIngest handles "clerk ingest <collection> <file>". It chunks and
// embeds the file and stores it in the named document collection.
func runIngest(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, collection, filePath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Embeddings.Enabled {
		return fmt.Errorf("embeddings are disabled; enable embeddings in config to ingest documents")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := rag.NewStore(db)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}

	ingester := rag.NewIngester(store, newEmbedder(cfg))
	n, err := ingester.Ingest(ctx, collection, filepath.Base(filePath), string(content))
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	logger.Info("ingestion complete", "collection", collection, "source", filePath, "chunks", n)
	fmt.Fprintf(stdout, "Ingested %d chunks from %s into %q\n", n, filePath, collection)
	return nil
}

// runServe handles "clerk serve", the primary operating mode: load
// config, open the database, connect the record system and tool
// providers, start the API server, and block until a shutdown signal.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting clerk", "version", buildinfo.Version)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			parsed, err := config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			level = parsed
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"provider", cfg.Models.Provider,
	)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database opened", "path", databasePath(cfg.DataDir))

	checkpoints, err := checkpoint.NewStore(db)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	transcripts, err := transcript.NewStore(db)
	if err != nil {
		return fmt.Errorf("transcript store: %w", err)
	}
	providers, err := provider.NewStore(db)
	if err != nil {
		return fmt.Errorf("provider store: %w", err)
	}

	llmClient := createLLMClient(cfg)

	// --- Connection monitoring ---
	// Background health probes with backoff for the model backend and
	// the record system. The server comes up either way; health status
	// is visible on /health.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "model",
		Probe:   llmClient.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
	})

	// --- Tool providers ---
	// Built-in tools plus every active stored provider, flattened into
	// one registry. Providers that fail to connect are reported and
	// skipped; the server still comes up.
	builtins, records := builtinTools(cfg, logger)
	if records != nil {
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    "records",
			Probe:   records.Ping,
			Backoff: connwatch.DefaultBackoffConfig(),
		})
	}
	manager := mcp.NewManager(logger, builtins...)
	defer manager.Close()

	configs, err := providers.Active()
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	for _, status := range manager.Reload(ctx, configs) {
		if status.Connected {
			logger.Info("tool provider connected", "provider", status.Name, "tools", len(status.Tools))
		} else {
			logger.Warn("tool provider unavailable", "provider", status.Name, "error", status.Error)
		}
	}
	logger.Info("tool registry ready", "tools", len(manager.Registry().Names()))

	loop := agent.NewLoop(logger, llmClient, cfg.Models.Default, manager,
		checkpoints, transcripts, cfg.Agent.MaxIterations)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, manager,
		providers, transcripts, checkpoints, logger)
	server.SetHealthWatcher(connMgr)

	// --- Grounded answering ---
	// Optional: requires an embedding backend. Without it the /v1/ask
	// and collection endpoints report unavailable.
	if cfg.Embeddings.Enabled {
		store, err := rag.NewStore(db)
		if err != nil {
			return fmt.Errorf("document store: %w", err)
		}
		embedder := newEmbedder(cfg)
		server.SetAnswerer(rag.NewAnswerer(store, embedder, llmClient,
			cfg.Models.Default, cfg.Agent.RetrievalTopK, logger))
		server.SetIngester(rag.NewIngester(store, embedder))
		logger.Info("grounded answering enabled", "model", cfg.Embeddings.Model)
	} else {
		logger.Info("grounded answering disabled (embeddings not enabled)")
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("clerk stopped")
	return nil
}

// builtinTools constructs the native tool set. Currently that is the
// records tool, present only when a record system backend is
// configured. The backend client is returned alongside for health
// probing; it is nil when unconfigured.
func builtinTools(cfg *config.Config, logger *slog.Logger) ([]*tools.Tool, *odoo.Client) {
	if cfg.Records.URL == "" {
		logger.Warn("record system not configured - records tool unavailable")
		return nil, nil
	}

	client := odoo.NewClient(odoo.Config{
		URL:      cfg.Records.URL,
		Database: cfg.Records.Database,
		Username: cfg.Records.Username,
		Password: cfg.Records.Password,
	})
	return []*tools.Tool{odoo.NewRecordsTool(client)}, client
}

// createLLMClient selects the model backend from config.
func createLLMClient(cfg *config.Config) llm.Client {
	if cfg.Models.Provider == "openai" {
		return llm.NewOpenAIClient(cfg.Models.OpenAI.BaseURL, cfg.Models.OpenAI.APIKey)
	}
	return llm.NewOllamaClient(cfg.Models.OllamaURL)
}

// newEmbedder builds the embedding client, defaulting its URL to the
// Ollama backend.
func newEmbedder(cfg *config.Config) *embeddings.Client {
	baseURL := cfg.Embeddings.BaseURL
	if baseURL == "" {
		baseURL = cfg.Models.OllamaURL
	}
	return embeddings.New(embeddings.Config{
		BaseURL: baseURL,
		Model:   cfg.Embeddings.Model,
	})
}

// openDatabase opens (creating if needed) the SQLite database under
// the data directory, with WAL mode for concurrent readers.
func openDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	db, err := sql.Open("sqlite3", databasePath(dataDir)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func databasePath(dataDir string) string {
	return filepath.Join(dataDir, "clerk.db")
}

// newLogger creates a structured logger writing to w at the given
// level and format. Format must be "text" or "json"; anything else
// falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
