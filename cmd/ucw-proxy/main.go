// cmd/ucw-proxy is the capture interceptor. It sits between an AI client
// and its MCP host process, forwarding stdio byte-for-byte while recording
// every JSON-RPC frame as a cognitive event.
//
// Startup sequence:
//  1. Load configuration from YAML and environment variables.
//  2. Open the event store (SQLite or Postgres).
//  3. Create the enrichment engine and start its workers.
//  4. Create the correlator and interceptor around the host command.
//  5. Optionally start the live monitor and notify writer.
//  6. Relay frames until the host exits, then drain and shut down.
//
// CRITICAL: ALL logging MUST go to stderr. The proxy's stdout carries the
// host's JSON-RPC responses; any other bytes there corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scrypster/ucw/internal/capture"
	"github.com/scrypster/ucw/internal/config"
	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/engine"
	"github.com/scrypster/ucw/internal/notify"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/internal/storage/postgres"
	"github.com/scrypster/ucw/internal/storage/sqlite"
	"github.com/scrypster/ucw/internal/web"
	"github.com/scrypster/ucw/pkg/types"
)

// hostCommand extracts the wrapped host command line from os.Args,
// accepting an optional "--" separator: ucw-proxy [--] <command> [args...].
func hostCommand(args []string) []string {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	return args
}

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

// buildEmbedder wires the Ollama client behind the tiered cache service.
// Returns nil when embeddings are disabled; the pipeline then tops out at
// partial enrichment.
func buildEmbedder(cfg *config.Config, store storage.Store) (*embedding.Service, error) {
	if !cfg.Embedding.Enabled {
		return nil, nil
	}
	client := embedding.NewOllamaClient(embedding.OllamaConfig{
		BaseURL: cfg.Embedding.OllamaURL,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})
	return embedding.NewService(client, store, embedding.ServiceConfig{
		HotCacheSize:  cfg.Embedding.HotCacheSize,
		RatePerSecond: cfg.Embedding.RatePerSec,
	})
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("ucw-proxy: ")
	log.SetFlags(log.LstdFlags)

	command := hostCommand(os.Args[1:])
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ucw-proxy [--] <host-command> [args...]")
		os.Exit(2)
	}

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

	embedder, err := buildEmbedder(cfg, store)
	if err != nil {
		log.Fatalf("failed to create embedding service: %v", err)
	}

	engineConfig := engine.DefaultConfig()
	engineConfig.NumWorkers = cfg.Engine.Workers
	engineConfig.QueueSize = cfg.Engine.QueueSize
	engineConfig.ShutdownTimeout = cfg.Capture.ShutdownTimeout
	eng, err := engine.NewEngine(store, engineConfig, embedder)
	if err != nil {
		log.Fatalf("failed to create enrichment engine: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("failed to start enrichment engine: %v", err)
	}

	correlator, err := capture.NewCorrelator(capture.Config{
		Platform:   cfg.Capture.Platform,
		Protocol:   cfg.Capture.Protocol,
		PendingTTL: cfg.Capture.PendingTTL,
	}, store, eng)
	if err != nil {
		log.Fatalf("failed to create correlator: %v", err)
	}

	interceptor, err := capture.NewInterceptor(capture.InterceptorConfig{
		Command:       command,
		MaxFrameBytes: cfg.Capture.MaxFrameBytes,
	}, correlator)
	if err != nil {
		log.Fatalf("failed to create interceptor: %v", err)
	}

	// The notify writer tells ucw-mcp about fresh captures. Write failures
	// are logged and otherwise ignored; notification is best effort.
	writer := notify.NewEventWriter(cfg.Storage.DataPath)
	eng.SetOnEnrichmentComplete(func(eventID string) {
		if err := writer.Notify(notify.TypeEnrichmentComplete, eventID); err != nil {
			log.Printf("notify failed: %v", err)
		}
	})

	// The live monitor is opt-in and observational. Startup failures are
	// logged; the capture path runs without it.
	var monitor *web.Monitor
	if cfg.Monitor.Addr != "" {
		monitor, err = web.NewMonitor(web.Config{
			Addr:       cfg.Monitor.Addr,
			RatePerSec: cfg.Monitor.RatePerSec,
		}, store, correlator, eng)
		if err != nil {
			log.Printf("monitor disabled: %v", err)
			monitor = nil
		} else if _, err := monitor.Start(ctx); err != nil {
			log.Printf("monitor disabled: %v", err)
			monitor = nil
		}
	}
	if monitor != nil {
		interceptor.OnEvent = func(event *types.CognitiveEvent) {
			monitor.BroadcastCapture(event)
		}
	}

	log.Printf("intercepting %v", command)

	runErr := interceptor.Run(ctx)
	if runErr != nil {
		log.Printf("interceptor stopped: %v", runErr)
	}

	// Drain queued enrichment before exiting so late captures still get
	// their layers and embeddings.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Capture.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("engine shutdown error: %v", err)
	}
	if monitor != nil {
		if err := monitor.Stop(shutdownCtx); err != nil {
			log.Printf("monitor shutdown error: %v", err)
		}
	}

	log.Printf("captured %d events (%d lost)", correlator.EventCount(), correlator.CaptureLoss())
	if runErr != nil {
		os.Exit(1)
	}
}
