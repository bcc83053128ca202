package ann

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"
)

// State is one node of the ANN lifecycle state machine (spec.md §4.3).
type State int

const (
	StateAbsent State = iota
	StateLoading
	StateReadyClean
	StateReadyDirty
	StateDirtyNeedsRebuild
)

// ErrSkipped is returned by Ensure when the index is disabled or the
// store has fewer than MinChunks vectors; callers fall back to linear
// scan in this case, it is not a failure.
var ErrSkipped = errors.New("ann: index build skipped")

// ErrDimensionMismatch is returned when a sampled vector's length does
// not match the configured dimension.
var ErrDimensionMismatch = errors.New("ann: vector dimension mismatch")

// Meta is the persisted descriptor compared against the live store to
// decide whether a disk-loaded index may be reused.
type Meta struct {
	Version        int    `json:"version"`
	EmbeddingModel string `json:"embedding_model"`
	Metric         string `json:"metric"`
	Dim            int    `json:"dim"`
	Count          int    `json:"count"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
	MaxElements    int    `json:"max_elements"`
}

const metaVersion = 1

// VectorSource is the chunk store's read surface the manager needs to
// build or validate against: its dimension, length, and a per-index
// vector accessor.
type VectorSource interface {
	Dim() int
	Length() int
	GetVector(i int) ([]float32, error)
}

// Manager owns the lifecycle of one ANN index: build, disk load/persist,
// incremental append, and query, guarded by a single in-flight build
// future so concurrent readers await the same build.
type Manager struct {
	mu sync.Mutex

	dir            string
	cfg            Config
	embeddingModel string

	state   State
	backend Backend
	meta    Meta

	group           singleflight.Group
	sampleSize      int
	buildYieldEvery int
	sizeFactor      float64
	sizeExtra       int
	persistEnabled  bool
}

// NewManager constructs a Manager rooted at dir (the cache directory's
// ann/ subdirectory), configured per cfg.
func NewManager(dir string, cfg Config, embeddingModel string) *Manager {
	return &Manager{
		dir:             dir,
		cfg:             cfg,
		embeddingModel:  embeddingModel,
		state:           StateAbsent,
		sampleSize:      32,
		buildYieldEvery: 2000,
		sizeFactor:      1.5,
		sizeExtra:       256,
		persistEnabled:  true,
	}
}

func (m *Manager) indexPath() string { return filepath.Join(m.dir, "ann-index.bin") }
func (m *Manager) metaPath() string  { return filepath.Join(m.dir, "ann-meta.json") }

// Invalidate marks the index as needing a full rebuild: removal, bulk
// replacement, or any mutation other than a trailing append.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDirtyNeedsRebuild
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns the manager's live state and the config/meta pair
// describing the currently loaded (or most recently built) index, for
// the "ann_config stats" operation (spec.md §6).
func (m *Manager) Stats() (State, Config, Meta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.cfg, m.meta
}

// SetEfSearch updates the query-time search width. It takes effect on
// the next query immediately, without a rebuild: QueryANN re-applies
// cfg.EfSearch to the backend on every call.
func (m *Manager) SetEfSearch(ef int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.EfSearch = ef
	m.meta.EfSearch = ef
	if m.backend != nil {
		m.backend.SetEfSearch(ef)
	}
}

// Ensure returns a ready backend for source, building or loading one if
// necessary. Returns ErrSkipped if ANN is disabled for this store size.
func (m *Manager) Ensure(ctx context.Context, source VectorSource) (Backend, error) {
	if source.Length() < m.cfg.MinChunks {
		return nil, ErrSkipped
	}

	m.mu.Lock()
	if (m.state == StateReadyClean || m.state == StateReadyDirty) && m.backend != nil {
		b := m.backend
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("ensure", func() (interface{}, error) {
		return m.ensureLocked(ctx, source)
	})
	if err != nil {
		return nil, err
	}
	return v.(Backend), nil
}

func (m *Manager) ensureLocked(ctx context.Context, source VectorSource) (Backend, error) {
	m.mu.Lock()
	needsRebuild := m.state == StateDirtyNeedsRebuild
	m.state = StateLoading
	m.mu.Unlock()

	if !needsRebuild {
		if b, meta, ok := m.tryLoad(source); ok {
			m.mu.Lock()
			m.backend, m.meta, m.state = b, meta, StateReadyClean
			m.mu.Unlock()
			return b, nil
		}
	}

	b, meta, err := m.build(ctx, source)
	if err != nil {
		m.mu.Lock()
		m.state = StateAbsent
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.backend, m.meta, m.state = b, meta, StateReadyClean
	m.mu.Unlock()

	if m.persistEnabled {
		if err := m.persist(b, meta); err != nil {
			return b, fmt.Errorf("persist ann index: %w", err)
		}
	}
	return b, nil
}

// tryLoad attempts to reuse a disk-persisted index, accepting it only
// when every field spec.md §4.3 names matches the live store.
func (m *Manager) tryLoad(source VectorSource) (Backend, Meta, bool) {
	data, err := os.ReadFile(m.metaPath())
	if err != nil {
		return nil, Meta{}, false
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, Meta{}, false
	}

	if meta.Version != metaVersion ||
		meta.EmbeddingModel != m.embeddingModel ||
		meta.Dim != source.Dim() ||
		meta.Count != source.Length() ||
		meta.Metric != "cosine" ||
		meta.M != m.cfg.M ||
		meta.EfConstruction != m.cfg.EfConstruction ||
		meta.MaxElements < source.Length() {
		return nil, Meta{}, false
	}

	f, err := os.Open(m.indexPath())
	if err != nil {
		return nil, Meta{}, false
	}
	defer f.Close()

	b := newHNSWBackend(m.cfg)
	if err := b.Read(f); err != nil {
		return nil, Meta{}, false
	}
	b.SetEfSearch(m.cfg.EfSearch)
	meta.EfSearch = m.cfg.EfSearch

	return b, meta, true
}

// build constructs a fresh index sized to max_elements and inserts every
// chunk vector by its positional label, yielding cooperatively.
func (m *Manager) build(ctx context.Context, source VectorSource) (Backend, Meta, error) {
	count := source.Length()
	dim := source.Dim()

	n := m.sampleSize
	if n > count {
		n = count
	}
	for i := 0; i < n; i++ {
		v, err := source.GetVector(i)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("sample vector %d: %w", i, err)
		}
		if len(v) != dim {
			return nil, Meta{}, fmt.Errorf("%w: vector %d has %d components, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	maxElements := MaxElements(count, m.sizeFactor, m.sizeExtra)
	b := newHNSWBackend(m.cfg)

	for i := 0; i < count; i++ {
		if i%m.buildYieldEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, Meta{}, ctx.Err()
			default:
				runtime.Gosched()
			}
		}
		v, err := source.GetVector(i)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("read vector %d: %w", i, err)
		}
		if err := b.AddPoint(uint64(i), v); err != nil {
			return nil, Meta{}, fmt.Errorf("add point %d: %w", i, err)
		}
	}
	b.SetEfSearch(m.cfg.EfSearch)

	meta := Meta{
		Version:        metaVersion,
		EmbeddingModel: m.embeddingModel,
		Metric:         "cosine",
		Dim:            dim,
		Count:          count,
		M:              m.cfg.M,
		EfConstruction: m.cfg.EfConstruction,
		EfSearch:       m.cfg.EfSearch,
		MaxElements:    maxElements,
	}
	return b, meta, nil
}

func (m *Manager) persist(b Backend, meta Meta) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	tmpIndex := m.indexPath() + ".tmp"
	f, err := os.Create(tmpIndex)
	if err != nil {
		return err
	}
	if err := b.Write(f); err != nil {
		f.Close()
		os.Remove(tmpIndex)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndex)
		return err
	}
	if err := os.Rename(tmpIndex, m.indexPath()); err != nil {
		os.Remove(tmpIndex)
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmpMeta := m.metaPath() + ".tmp"
	if err := os.WriteFile(tmpMeta, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpMeta, m.metaPath())
}

// AppendOne attempts the incremental-append fast path: label must equal
// the index's current count and must be below max_elements. Any other
// shape of mutation should call Invalidate instead.
func (m *Manager) AppendOne(label int, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReadyClean && m.state != StateReadyDirty {
		return fmt.Errorf("ann: append requires a ready index")
	}
	if label != m.meta.Count || m.meta.Count >= m.meta.MaxElements {
		m.state = StateDirtyNeedsRebuild
		return fmt.Errorf("ann: append out of incremental range, rebuild required")
	}

	if err := m.backend.AddPoint(uint64(label), vec); err != nil {
		return err
	}
	m.meta.Count++
	m.state = StateReadyDirty
	return nil
}

// QueryANN searches the live index for the k nearest labels to q. On a
// backend failure it invalidates the index and returns an empty result,
// per spec.md §4.3's "caller falls back to linear" contract.
func (m *Manager) QueryANN(q []float32, k int) []int {
	m.mu.Lock()
	b := m.backend
	state := m.state
	efSearch := m.cfg.EfSearch
	count := m.meta.Count
	m.mu.Unlock()

	if b == nil || (state != StateReadyClean && state != StateReadyDirty) {
		return nil
	}

	b.SetEfSearch(efSearch)
	labels, err := b.SearchKNN(q, k)
	if err != nil {
		m.Invalidate()
		return nil
	}

	out := make([]int, 0, len(labels))
	for _, l := range labels {
		if int(l) >= 0 && int(l) < count {
			out = append(out, int(l))
		}
	}
	return out
}
