// Package ann manages the lifecycle of an HNSW approximate-nearest-
// neighbor index kept consistent with the chunk store: build, load,
// persist, incremental append, and ef-search tuning.
package ann

import "io"

// Backend is the minimal surface a concrete ANN implementation must
// provide. hnswBackend is the only implementation; the interface exists
// so Manager's state machine and dimension/consistency checks stay
// independent of the underlying graph library.
type Backend interface {
	// AddPoint inserts vec at the given positional label.
	AddPoint(label uint64, vec []float32) error
	// SearchKNN returns up to k labels nearest to q, nearest first.
	SearchKNN(q []float32, k int) ([]uint64, error)
	// SetEfSearch tunes query-time search width.
	SetEfSearch(ef int)
	// Len returns the number of points currently in the graph.
	Len() int
	// Write persists the raw graph blob.
	Write(w io.Writer) error
	// Read loads a raw graph blob previously written by Write.
	Read(r io.Reader) error
}

// Config mirrors spec.md §4.3's locked/tunable ANN parameters.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	MinChunks      int
	Dim            int
}

// MaxElements computes max(count, ceil(count*factor), count+extra), the
// capacity an index is built to hold before a rebuild is required.
func MaxElements(count int, factor float64, extra int) int {
	byFactor := int(float64(count)*factor + 0.999999)
	byExtra := count + extra
	max := count
	if byFactor > max {
		max = byFactor
	}
	if byExtra > max {
		max = byExtra
	}
	return max
}
