package embedding

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// stubGenerator counts calls and returns a fixed vector.
type stubGenerator struct {
	calls  int
	vector []float32
}

func (g *stubGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.calls++
	return g.vector, nil
}

func (g *stubGenerator) Model() string { return "stub-model" }

// fakeCache is an in-memory EmbeddingCache with write-once semantics.
type fakeCache struct {
	entries map[string]*types.EmbeddingCacheEntry
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*types.EmbeddingCacheEntry{}}
}

func (c *fakeCache) GetCachedEmbedding(ctx context.Context, contentHash string) (*types.EmbeddingCacheEntry, error) {
	entry, ok := c.entries[contentHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

func (c *fakeCache) PutCachedEmbedding(ctx context.Context, entry *types.EmbeddingCacheEntry) error {
	c.puts++
	if _, ok := c.entries[entry.ContentHash]; ok {
		return nil
	}
	c.entries[entry.ContentHash] = entry
	return nil
}

func newTestService(t *testing.T, gen Generator, cache storage.EmbeddingCache) *Service {
	t.Helper()
	svc, err := NewService(gen, cache, ServiceConfig{RatePerSecond: 1000})
	require.NoError(t, err)
	return svc
}

func TestBuildText(t *testing.T) {
	data := &types.DataLayer{Content: "call the capture tool with these arguments"}
	light := &types.LightLayer{
		Intent:   "create",
		Topics:   []string{"database", "coding"},
		Concepts: []string{"schema", "capture"},
	}

	text := BuildText(data, light)
	assert.Equal(t, "create: database | call the capture tool with these arguments | schema capture", text)
}

func TestBuildText_SummaryWinsOverContent(t *testing.T) {
	data := &types.DataLayer{Content: "long raw content"}
	light := &types.LightLayer{Intent: "search", Summary: "short summary"}

	text := BuildText(data, light)
	assert.Contains(t, text, "short summary")
	assert.NotContains(t, text, "long raw content")
	assert.True(t, strings.HasPrefix(text, "search: general"), "missing topic falls back to general")
}

func TestBuildText_TruncatesContent(t *testing.T) {
	data := &types.DataLayer{Content: strings.Repeat("x", 1000)}
	light := &types.LightLayer{Intent: "analyze"}

	text := BuildText(data, light)
	assert.Less(t, len(text), 400)
}

func TestBuildText_TruncationKeepsRunesWhole(t *testing.T) {
	// The leading byte misaligns every two-byte rune with the 300-byte cut.
	data := &types.DataLayer{Content: "a" + strings.Repeat("é", 400)}
	light := &types.LightLayer{Intent: "analyze"}

	text := BuildText(data, light)
	assert.True(t, utf8.ValidString(text), "embed text must stay valid UTF-8")
	assert.Less(t, len(text), 400)
}

func TestEmbed_TooShort(t *testing.T) {
	svc := newTestService(t, &stubGenerator{vector: []float32{1}}, newFakeCache())

	_, _, err := svc.Embed(context.Background(), "hi", "evt-1")
	assert.ErrorIs(t, err, ErrTextTooShort)
}

func TestEmbed_IdenticalTextEmbeddedOnce(t *testing.T) {
	gen := &stubGenerator{vector: []float32{0.1, 0.2}}
	svc := newTestService(t, gen, newFakeCache())
	ctx := context.Background()

	text := "create: database | schema design discussion"
	vec1, hash1, err := svc.Embed(ctx, text, "evt-1")
	require.NoError(t, err)
	vec2, hash2, err := svc.Embed(ctx, text, "evt-2")
	require.NoError(t, err)

	assert.Equal(t, vec1, vec2)
	assert.Equal(t, hash1, hash2)
	assert.Equal(t, 1, gen.calls, "second call must come from cache")
}

func TestEmbed_PersistentCacheHitSkipsGenerator(t *testing.T) {
	text := "search: mcp_protocol | looking up tool schemas"
	cache := newFakeCache()
	cache.entries[ContentHash(text)] = &types.EmbeddingCacheEntry{
		ContentHash: ContentHash(text),
		Embedding:   []float32{0.5, 0.5},
		Model:       "stub-model",
		Dimension:   2,
	}

	gen := &stubGenerator{vector: []float32{9, 9}}
	svc := newTestService(t, gen, cache)

	vec, _, err := svc.Embed(context.Background(), text, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
	assert.Zero(t, gen.calls)
}

func TestEmbed_WritesThroughToCache(t *testing.T) {
	cache := newFakeCache()
	gen := &stubGenerator{vector: []float32{0.3, 0.4}}
	svc := newTestService(t, gen, cache)

	text := "analyze: coding | reviewing the correlator implementation"
	_, hash, err := svc.Embed(context.Background(), text, "evt-7")
	require.NoError(t, err)

	entry, ok := cache.entries[hash]
	require.True(t, ok, "fresh vector must be written through")
	assert.Equal(t, "evt-7", entry.EventID)
	assert.Equal(t, "stub-model", entry.Model)
	assert.Equal(t, 2, entry.Dimension)
	assert.LessOrEqual(t, len(entry.Preview), 100)
}
