// Package config provides configuration management for UCW.
// It loads settings from environment variables with the UCW_ prefix and
// provides sensible defaults for all configuration options.
//
// An optional YAML file can supply overrides below the environment: the file
// named by $UCW_CONFIG (or ~/.ucw/config.yaml when unset) is read first, then
// environment variables take precedence over its values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the UCW binaries.
type Config struct {
	Capture   CaptureConfig
	Engine    EngineConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Monitor   MonitorConfig
}

// CaptureConfig contains interceptor and correlation settings.
type CaptureConfig struct {
	Platform        string        // Platform identifier stamped on events (default: claude-code)
	Protocol        string        // Protocol identifier stamped on events (default: mcp)
	PendingTTL      time.Duration // How long an unanswered request is correlatable (default: 5m)
	MaxFrameBytes   int           // Scanner buffer limit for a single frame (default: 4 MiB)
	ShutdownTimeout time.Duration // Grace period for draining on shutdown (default: 30s)
}

// EngineConfig contains enrichment pipeline settings.
type EngineConfig struct {
	QueueSize int // Bounded enrichment queue capacity (default: 1024)
	Workers   int // Enrichment worker count (default: 4)
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	Enabled      bool          // Enable embedding generation (default: true)
	OllamaURL    string        // Ollama API URL (default: http://localhost:11434)
	Model        string        // Embedding model name (default: nomic-embed-text)
	Timeout      time.Duration // Per-request deadline (default: 10s)
	RatePerSec   float64       // Embedding request rate limit (default: 10)
	HotCacheSize int           // In-process LRU size in front of the store cache (default: 512)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory for sqlite and notify files (default: ~/.ucw)
	PostgresDSN   string // Postgres connection string when StorageEngine is postgres
}

// MonitorConfig contains the optional live monitor server settings.
type MonitorConfig struct {
	Addr       string  // Listen address; empty disables the monitor (default: "")
	RatePerSec float64 // Per-endpoint rate limit (default: 5)
}

// fileConfig mirrors Config for the YAML overlay. All fields are pointers so
// absent keys are distinguishable from zero values.
type fileConfig struct {
	Capture struct {
		Platform        *string `yaml:"platform"`
		Protocol        *string `yaml:"protocol"`
		PendingTTL      *string `yaml:"pending_ttl"`
		MaxFrameBytes   *int    `yaml:"max_frame_bytes"`
		ShutdownTimeout *string `yaml:"shutdown_timeout"`
	} `yaml:"capture"`
	Engine struct {
		QueueSize *int `yaml:"queue_size"`
		Workers   *int `yaml:"workers"`
	} `yaml:"engine"`
	Embedding struct {
		Enabled      *bool    `yaml:"enabled"`
		OllamaURL    *string  `yaml:"ollama_url"`
		Model        *string  `yaml:"model"`
		Timeout      *string  `yaml:"timeout"`
		RatePerSec   *float64 `yaml:"rate_per_sec"`
		HotCacheSize *int     `yaml:"hot_cache_size"`
	} `yaml:"embedding"`
	Storage struct {
		StorageEngine *string `yaml:"storage_engine"`
		DataPath      *string `yaml:"data_path"`
		PostgresDSN   *string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	Monitor struct {
		Addr       *string  `yaml:"addr"`
		RatePerSec *float64 `yaml:"rate_per_sec"`
	} `yaml:"monitor"`
}

// LoadConfig loads configuration from the optional YAML file and environment
// variables, with env taking precedence over the file and the file over the
// built-in defaults. All environment variables use the UCW_ prefix.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	fc, err := loadFileConfig()
	if err != nil {
		return nil, err
	}
	if fc != nil {
		if err := applyFileConfig(cfg, fc); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// defaultConfig returns a Config populated with the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Platform:        "claude-code",
			Protocol:        "mcp",
			PendingTTL:      5 * time.Minute,
			MaxFrameBytes:   4 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			QueueSize: 1024,
			Workers:   4,
		},
		Embedding: EmbeddingConfig{
			Enabled:      true,
			OllamaURL:    "http://localhost:11434",
			Model:        "nomic-embed-text",
			Timeout:      10 * time.Second,
			RatePerSec:   10,
			HotCacheSize: 512,
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      defaultDataPath(),
			PostgresDSN:   "",
		},
		Monitor: MonitorConfig{
			Addr:       "",
			RatePerSec: 5,
		},
	}
}

// defaultDataPath resolves ~/.ucw, falling back to ./data when the home
// directory cannot be determined.
func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".ucw")
}

// loadFileConfig reads the YAML overlay. Returns (nil, nil) when no file is
// configured or the default file does not exist. An explicitly named file
// ($UCW_CONFIG) that cannot be read is an error.
func loadFileConfig() (*fileConfig, error) {
	path := os.Getenv("UCW_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(defaultDataPath(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil, nil
		}
		if explicit {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		return nil, nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig overlays present file values onto cfg.
func applyFileConfig(cfg *Config, fc *fileConfig) error {
	setString(&cfg.Capture.Platform, fc.Capture.Platform)
	setString(&cfg.Capture.Protocol, fc.Capture.Protocol)
	if err := setDuration(&cfg.Capture.PendingTTL, fc.Capture.PendingTTL, "capture.pending_ttl"); err != nil {
		return err
	}
	setInt(&cfg.Capture.MaxFrameBytes, fc.Capture.MaxFrameBytes)
	if err := setDuration(&cfg.Capture.ShutdownTimeout, fc.Capture.ShutdownTimeout, "capture.shutdown_timeout"); err != nil {
		return err
	}

	setInt(&cfg.Engine.QueueSize, fc.Engine.QueueSize)
	setInt(&cfg.Engine.Workers, fc.Engine.Workers)

	setBool(&cfg.Embedding.Enabled, fc.Embedding.Enabled)
	setString(&cfg.Embedding.OllamaURL, fc.Embedding.OllamaURL)
	setString(&cfg.Embedding.Model, fc.Embedding.Model)
	if err := setDuration(&cfg.Embedding.Timeout, fc.Embedding.Timeout, "embedding.timeout"); err != nil {
		return err
	}
	setFloat(&cfg.Embedding.RatePerSec, fc.Embedding.RatePerSec)
	setInt(&cfg.Embedding.HotCacheSize, fc.Embedding.HotCacheSize)

	setString(&cfg.Storage.StorageEngine, fc.Storage.StorageEngine)
	setString(&cfg.Storage.DataPath, fc.Storage.DataPath)
	setString(&cfg.Storage.PostgresDSN, fc.Storage.PostgresDSN)

	setString(&cfg.Monitor.Addr, fc.Monitor.Addr)
	setFloat(&cfg.Monitor.RatePerSec, fc.Monitor.RatePerSec)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("config: invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}

// applyEnv overlays UCW_ environment variables onto cfg. Each value defaults
// to whatever cfg already holds, so env always wins over file and defaults.
func applyEnv(cfg *Config) {
	cfg.Capture.Platform = getEnv("UCW_PLATFORM", cfg.Capture.Platform)
	cfg.Capture.Protocol = getEnv("UCW_PROTOCOL", cfg.Capture.Protocol)
	cfg.Capture.PendingTTL = getEnvDuration("UCW_PENDING_TTL", cfg.Capture.PendingTTL)
	cfg.Capture.MaxFrameBytes = getEnvInt("UCW_MAX_FRAME_BYTES", cfg.Capture.MaxFrameBytes)
	cfg.Capture.ShutdownTimeout = getEnvDuration("UCW_SHUTDOWN_TIMEOUT", cfg.Capture.ShutdownTimeout)

	cfg.Engine.QueueSize = getEnvInt("UCW_QUEUE_SIZE", cfg.Engine.QueueSize)
	cfg.Engine.Workers = getEnvInt("UCW_WORKERS", cfg.Engine.Workers)

	cfg.Embedding.Enabled = getEnvBool("UCW_EMBED_ENABLED", cfg.Embedding.Enabled)
	cfg.Embedding.OllamaURL = getEnv("UCW_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.Model = getEnv("UCW_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Timeout = getEnvDuration("UCW_EMBED_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RatePerSec = getEnvFloat("UCW_EMBED_RATE", cfg.Embedding.RatePerSec)
	cfg.Embedding.HotCacheSize = getEnvInt("UCW_EMBED_HOT_CACHE", cfg.Embedding.HotCacheSize)

	cfg.Storage.StorageEngine = getEnv("UCW_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("UCW_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("UCW_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Monitor.Addr = getEnv("UCW_MONITOR_ADDR", cfg.Monitor.Addr)
	cfg.Monitor.RatePerSec = getEnvFloat("UCW_MONITOR_RATE", cfg.Monitor.RatePerSec)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s", "5m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
