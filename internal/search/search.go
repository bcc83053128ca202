// Package search implements hybrid query execution: embed the query,
// generate candidates via ANN (falling back to a linear scan), fuse
// semantic and lexical scores, and apply recency and call-graph boosts
// (spec.md §4.5).
package search

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/callgraph"
	cerrors "github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/embed"
)

// Options configures one Search call. Zero values are replaced with
// sane defaults by Searcher.Search.
type Options struct {
	MaxResults        int
	SemanticWeight    float64
	LexicalWeight     float64
	ExactMatchBoost   float64
	RecencyBoost      float64
	RecencyDecayDays  float64
	CallGraphBoost    float64
	CallGraphMaxHops  int
	CandidateMultiple int
	AnnMinCandidates  int
	AnnMaxCandidates  int
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = 20
	}
	if o.SemanticWeight == 0 && o.LexicalWeight == 0 {
		o.SemanticWeight = 0.65
		o.LexicalWeight = 0.35
	}
	if o.CandidateMultiple <= 0 {
		o.CandidateMultiple = 5
	}
	if o.AnnMinCandidates <= 0 {
		o.AnnMinCandidates = 50
	}
	if o.AnnMaxCandidates <= 0 {
		o.AnnMaxCandidates = 2000
	}
	if o.RecencyDecayDays <= 0 {
		o.RecencyDecayDays = 14
	}
	if o.CallGraphMaxHops <= 0 {
		o.CallGraphMaxHops = 2
	}
	return o
}

// Result is one ranked chunk returned from a search (spec.md §4.5 step 8).
type Result struct {
	File      string  `json:"file"`
	StartLine uint32  `json:"start_line"`
	EndLine   uint32  `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// Searcher executes hybrid queries against a loaded Cache.
type Searcher struct {
	cache    *cache.Cache
	embedder embed.Embedder
}

// New constructs a Searcher over an already-loaded cache and ready embedder.
func New(c *cache.Cache, embedder embed.Embedder) *Searcher {
	return &Searcher{cache: c, embedder: embedder}
}

var identifierRegex = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// querySymbols extracts identifier-like tokens from the raw query text,
// used to look up call-graph proximity (spec.md §4.5 step 6: "any symbol
// extracted from the query").
func querySymbols(query string) []string {
	return identifierRegex.FindAllString(query, -1)
}

// Search ranks chunks for query, fusing semantic similarity, lexical
// overlap, recency, and call-graph proximity into one score.
func (s *Searcher) Search(ctx context.Context, query string, graph *callgraph.Graph, opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	if query == "" {
		return []Result{}, nil
	}
	total := s.cache.Length()
	if total == 0 {
		return []Result{}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if dim := s.cache.Dim(); dim != 0 && len(queryVec) != dim {
		return nil, cerrors.DimensionMismatchError(
			fmt.Sprintf("query embedding has %d components, store dim is %d", len(queryVec), dim), nil)
	}

	if err := s.cache.StartRead(); err != nil {
		return nil, err
	}
	defer s.cache.EndRead()

	candidates := s.candidates(ctx, queryVec, opts, total)

	queryTokens := tokenize(query)
	symbols := querySymbols(query)
	var related map[string]bool
	if graph != nil && len(symbols) > 0 {
		related = graph.RelatedFilesForSymbols(symbols, opts.CallGraphMaxHops)
	}

	now := time.Now()
	fileHashes := s.cache.FileHashes()

	results := make([]Result, 0, len(candidates))
	for _, idx := range candidates {
		vec, err := s.cache.GetVector(idx)
		if err != nil {
			continue
		}
		content, err := s.cache.GetContent(idx)
		if err != nil {
			continue
		}
		fileID, startLine, endLine, err := s.cache.GetRecord(idx)
		if err != nil {
			continue
		}
		file, err := s.cache.FilePath(fileID)
		if err != nil {
			continue
		}

		semantic := cosineSimilarity(queryVec, vec)
		lexical := lexicalScore(query, queryTokens, content, opts.ExactMatchBoost)

		var recency float64
		if entry, ok := fileHashes[file]; ok && entry.MtimeMs > 0 {
			ageDays := now.Sub(time.UnixMilli(entry.MtimeMs)).Hours() / 24
			factor := 1 - ageDays/opts.RecencyDecayDays
			if factor < 0 {
				factor = 0
			}
			recency = opts.RecencyBoost * factor
		}

		var callBoost float64
		if related != nil && related[file] {
			callBoost = opts.CallGraphBoost
		}

		score := opts.SemanticWeight*semantic + (1-opts.SemanticWeight)*lexical + recency + callBoost

		results = append(results, Result{
			File:      file,
			StartLine: startLine,
			EndLine:   endLine,
			Content:   content,
			Score:     score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].File < results[j].File
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// FindSimilar ranks chunks by semantic similarity to the chunk(s) of
// file overlapping [startLine, endLine], per spec.md §6's
// find_similar operation. The anchor chunk(s) themselves are excluded
// from the results.
func (s *Searcher) FindSimilar(ctx context.Context, file string, startLine, endLine uint32, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	total := s.cache.Length()
	if total == 0 {
		return []Result{}, nil
	}

	if err := s.cache.StartRead(); err != nil {
		return nil, err
	}
	defer s.cache.EndRead()

	anchorVec, anchorIdx, found := s.anchorVector(file, startLine, endLine, total)
	if !found {
		return nil, fmt.Errorf("no indexed chunk overlaps %s:%d-%d", file, startLine, endLine)
	}

	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, 0, total)
	for i := 0; i < total; i++ {
		if anchorIdx[i] {
			continue
		}
		vec, err := s.cache.GetVector(i)
		if err != nil {
			continue
		}
		all = append(all, scored{idx: i, score: cosineSimilarity(anchorVec, vec)})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].idx < all[j].idx
	})
	if len(all) > maxResults {
		all = all[:maxResults]
	}

	results := make([]Result, 0, len(all))
	for _, sc := range all {
		content, err := s.cache.GetContent(sc.idx)
		if err != nil {
			continue
		}
		fileID, start, end, err := s.cache.GetRecord(sc.idx)
		if err != nil {
			continue
		}
		resultFile, err := s.cache.FilePath(fileID)
		if err != nil {
			continue
		}
		results = append(results, Result{File: resultFile, StartLine: start, EndLine: end, Content: content, Score: sc.score})
	}
	return results, nil
}

// anchorVector averages the vectors of every chunk in file overlapping
// [startLine, endLine] and reports which indices were used, so the
// caller can exclude them from the result set.
func (s *Searcher) anchorVector(file string, startLine, endLine uint32, total int) ([]float32, map[int]bool, bool) {
	used := map[int]bool{}
	var sum []float32
	var count int

	for i := 0; i < total; i++ {
		fileID, cStart, cEnd, err := s.cache.GetRecord(i)
		if err != nil {
			continue
		}
		path, err := s.cache.FilePath(fileID)
		if err != nil || path != file {
			continue
		}
		if cEnd < startLine || cStart > endLine {
			continue
		}
		vec, err := s.cache.GetVector(i)
		if err != nil {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		for j, v := range vec {
			sum[j] += v
		}
		used[i] = true
		count++
	}

	if count == 0 {
		return nil, nil, false
	}
	for j := range sum {
		sum[j] /= float32(count)
	}
	return sum, used, true
}

// candidates returns the chunk indices to score: an ANN shortlist when
// the index is ready, otherwise every index (linear fallback, logged by
// the caller via the returned bool being false is not needed here since
// QueryANN already degrades silently per spec.md §4.5 edge cases).
func (s *Searcher) candidates(ctx context.Context, queryVec []float32, opts Options, total int) []int {
	if _, err := s.cache.EnsureANN(ctx); err == nil {
		k := opts.MaxResults * opts.CandidateMultiple
		if k < opts.AnnMinCandidates {
			k = opts.AnnMinCandidates
		}
		if k > opts.AnnMaxCandidates {
			k = opts.AnnMaxCandidates
		}
		if k > total {
			k = total
		}
		if labels := s.cache.QueryANN(queryVec, k); len(labels) > 0 {
			return labels
		}
	}

	all := make([]int, total)
	for i := range all {
		all[i] = i
	}
	return all
}

// cosineSimilarity returns cosine similarity normalized to [0,1]; the
// zero vector is defined as similarity 0 (spec.md §4.5 edge cases).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// cosine is in [-1,1]; rescale to [0,1] per spec.md §4.5 step 3.
	return (cos + 1) / 2
}
