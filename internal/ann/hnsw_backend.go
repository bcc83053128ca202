package ann

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/coder/hnsw"
)

// hnswBackend wraps github.com/coder/hnsw, keyed by the chunk store's
// positional label rather than a string chunk ID, matching spec.md
// §4.3's "insert every chunk vector by its positional label".
type hnswBackend struct {
	graph *hnsw.Graph[uint64]
}

// newHNSWBackend constructs a fresh graph sized per cfg. metric is
// always cosine, per spec.md §4.3's "metric=cosine (locked)".
func newHNSWBackend(cfg Config) *hnswBackend {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &hnswBackend{graph: graph}
}

func (b *hnswBackend) AddPoint(label uint64, vec []float32) error {
	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)
	b.graph.Add(hnsw.MakeNode(label, normalized))
	return nil
}

func (b *hnswBackend) SearchKNN(q []float32, k int) ([]uint64, error) {
	if b.graph.Len() == 0 {
		return nil, nil
	}
	normalized := make([]float32, len(q))
	copy(normalized, q)
	normalizeInPlace(normalized)

	nodes := b.graph.Search(normalized, k)
	labels := make([]uint64, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, n.Key)
	}
	return labels, nil
}

func (b *hnswBackend) SetEfSearch(ef int) {
	b.graph.EfSearch = ef
}

func (b *hnswBackend) Len() int {
	return b.graph.Len()
}

func (b *hnswBackend) Write(w io.Writer) error {
	if err := b.graph.Export(w); err != nil {
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	return nil
}

func (b *hnswBackend) Read(r io.Reader) error {
	br := bufio.NewReader(r)
	if err := b.graph.Import(br); err != nil {
		return fmt.Errorf("import hnsw graph: %w", err)
	}
	return nil
}

var _ Backend = (*hnswBackend)(nil)

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
