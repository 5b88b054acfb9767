// Package embedding generates and caches semantic vectors for captured
// events. Generation goes through a local Ollama instance; lookups go
// through a two-tier cache (in-process LRU, then the persistent store) so
// identical text is embedded at most once.
package embedding

import "context"

// Generator produces embedding vectors for text.
type Generator interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the model name used for generation.
	Model() string
}
