package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/ann"
	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/callgraph"
	"github.com/codelens/codelens/internal/chunkstore"
)

// vecEmbedder maps known texts to fixed vectors, and anything else to a
// distinct default, so semantic similarity is deterministic in tests.
type vecEmbedder struct {
	vectors map[string][]float32
}

func (e *vecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}
func (e *vecEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (e *vecEmbedder) Dimensions() int                    { return 4 }
func (e *vecEmbedder) ModelName() string                  { return "vec-model" }
func (e *vecEmbedder) Available(_ context.Context) bool   { return true }
func (e *vecEmbedder) Close() error                       { return nil }
func (e *vecEmbedder) SetBatchIndex(_ int)                {}
func (e *vecEmbedder) SetFinalBatch(_ bool)                {}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(cache.Config{
		Dir:               t.TempDir(),
		Workspace:         "/workspace",
		EmbeddingModel:    "vec-model",
		Dim:               4,
		Mode:              chunkstore.ModeMemory,
		SaveDebounce:      5 * time.Millisecond,
		ReaderWaitTimeout: 200 * time.Millisecond,
		Ann:               ann.Config{M: 16, EfConstruction: 200, EfSearch: 64, MinChunks: 1000, Dim: 4},
	}, nil)
	_, err := c.Load()
	require.NoError(t, err)
	return c
}

func TestSearch_RanksBySemanticAndLexicalFusion(t *testing.T) {
	c := newTestCache(t)
	embedder := &vecEmbedder{vectors: map[string][]float32{
		"login": {1, 0, 0, 0},
		"sort":  {0, 1, 0, 0},
	}}

	_, err := c.AddToStore(cache.Chunk{File: "a.js", StartLine: 1, EndLine: 5, Content: "function login() {}", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = c.AddToStore(cache.Chunk{File: "b.js", StartLine: 1, EndLine: 5, Content: "function sort() {}", Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)

	s := New(c, embedder)
	results, err := s.Search(context.Background(), "login", nil, Options{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.js", results[0].File)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_EmptyQueryReturnsEmpty(t *testing.T) {
	c := newTestCache(t)
	s := New(c, &vecEmbedder{})
	results, err := s.Search(context.Background(), "", nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyStoreReturnsEmpty(t *testing.T) {
	c := newTestCache(t)
	s := New(c, &vecEmbedder{})
	results, err := s.Search(context.Background(), "login", nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_CallGraphBoostFavorsRelatedFile(t *testing.T) {
	c := newTestCache(t)
	embedder := &vecEmbedder{}
	// Both chunks get the same default vector/content shape so semantic+lexical
	// scores tie; the call-graph boost must be what separates them.
	_, err := c.AddToStore(cache.Chunk{File: "handler.js", StartLine: 1, EndLine: 5, Content: "calls helper", Vector: []float32{0, 0, 0, 1}})
	require.NoError(t, err)
	_, err = c.AddToStore(cache.Chunk{File: "unrelated.js", StartLine: 1, EndLine: 5, Content: "calls helper", Vector: []float32{0, 0, 0, 1}})
	require.NoError(t, err)

	graph := callgraph.Build(map[string]callgraph.Entry{
		"handler.js": {Calls: []string{"helper"}},
		"helper.js":  {Definitions: []string{"helper"}},
	})

	s := New(c, embedder)
	results, err := s.Search(context.Background(), "helper", graph, Options{CallGraphBoost: 0.5, CallGraphMaxHops: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "handler.js", results[0].File)
}

func TestCosineSimilarity_ZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 0.001)
}
