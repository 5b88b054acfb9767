// cmd/ucw-mcp is the entry point for the UCW analytic MCP (Model Context
// Protocol) server. It opens the same store ucw-proxy writes to and exposes
// the captured stream through timeline, scan, moment, search, and emergence
// tools.
//
// Startup sequence:
//  1. Load configuration from YAML and environment variables.
//  2. Open the event store (SQLite or Postgres).
//  3. Create the embedding service when enabled, for query-side embeddings.
//  4. Create the coherence engine over the store.
//  5. Create the MCP server and serve JSON-RPC 2.0 on stdin/stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scrypster/ucw/internal/api/mcp"
	"github.com/scrypster/ucw/internal/coherence"
	"github.com/scrypster/ucw/internal/config"
	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/notify"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/internal/storage/postgres"
	"github.com/scrypster/ucw/internal/storage/sqlite"
)

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "ucw.db"))
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("ucw-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	// Query-side embedding service. Without it coherence_search returns a
	// typed unavailable error; every other tool works from the store alone.
	var embedder *embedding.Service
	var ollama *embedding.OllamaClient
	if cfg.Embedding.Enabled {
		ollama = embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL: cfg.Embedding.OllamaURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
		embedder, err = embedding.NewService(ollama, store, embedding.ServiceConfig{
			HotCacheSize:  cfg.Embedding.HotCacheSize,
			RatePerSecond: cfg.Embedding.RatePerSec,
		})
		if err != nil {
			log.Fatalf("failed to create embedding service: %v", err)
		}
	}

	analytics, err := coherence.NewEngine(coherence.Config{}, store, embedder)
	if err != nil {
		log.Fatalf("failed to create coherence engine: %v", err)
	}
	if ollama != nil {
		analytics.SetBreakerStateProbe(ollama.BreakerState)
	}

	// Watch for capture notifications from ucw-proxy. Purely informational
	// here: tool calls always read fresh from the store.
	watcher := notify.NewEventWatcher(cfg.Storage.DataPath, func(notifyType, eventID string) {
		log.Printf("capture notification: %s %s", notifyType, eventID)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("notify watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	srv := mcp.NewServer(store, analytics)
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		// A non-nil error here is normal (context cancellation) or indicates a
		// fatal stdin/stdout problem. Either way it is informational only.
		log.Printf("transport stopped: %v", err)
	}
}
