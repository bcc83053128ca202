// Package cache implements the embedding cache: the single authoritative
// handle on the chunk store plus the file-hash and call-graph side maps.
// It arbitrates concurrent readers against the one writer and serializes
// and debounces saves, the way internal/watcher debounces file events.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codelens/codelens/internal/ann"
	"github.com/codelens/codelens/internal/chunkstore"
	cerrors "github.com/codelens/codelens/internal/errors"
)

// Chunk is one caller-supplied unit passed to AddToStore: a chunk's
// structural position, its text, and its embedding.
type Chunk struct {
	File      string
	StartLine uint32
	EndLine   uint32
	Content   string
	Vector    []float32
}

// overlayChunk is a Chunk staged in memory since the last successful save,
// not yet reflected in the on-disk chunkstore.Store generation.
type overlayChunk struct {
	fileID    uint32
	startLine uint32
	endLine   uint32
	content   string
	vector    []float32
}

// Config configures a Cache.
type Config struct {
	Dir               string
	Workspace         string
	EmbeddingModel    string
	Dim               int // 0 auto-detects from the first chunk added
	Mode              chunkstore.Mode
	SaveDebounce      time.Duration
	ReaderWaitTimeout time.Duration
	Ann               ann.Config
}

// Cache is the single authoritative handle on one workspace's chunk
// store, file-hash map, and call graph.
type Cache struct {
	mu sync.Mutex

	dir            string
	workspace      string
	embeddingModel string
	dim            int
	mode           chunkstore.Mode

	store     *chunkstore.Store
	baseCount int
	overlay   []overlayChunk
	files     []string
	fileIndex map[string]int

	fileHashes map[string]FileHashEntry
	callGraph  map[string]CallGraphEntry
	meta       Meta
	telemetry  chunkstore.Telemetry

	ann *ann.Manager

	activeReads int
	writing     bool

	debounce          time.Duration
	readerWaitTimeout time.Duration
	saveTimer         *time.Timer
	saveWaiters       []chan error
	dirty             bool

	logger *slog.Logger
}

var _ ann.VectorSource = (*Cache)(nil)

// New constructs a Cache rooted at cfg.Dir. Call Load before using it.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.SaveDebounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	readerWait := cfg.ReaderWaitTimeout
	if readerWait <= 0 {
		readerWait = 5 * time.Second
	}
	return &Cache{
		dir:               cfg.Dir,
		workspace:         cfg.Workspace,
		embeddingModel:    cfg.EmbeddingModel,
		dim:               cfg.Dim,
		mode:              cfg.Mode,
		fileIndex:         map[string]int{},
		fileHashes:        map[string]FileHashEntry{},
		callGraph:         map[string]CallGraphEntry{},
		ann:               ann.NewManager(cfg.Dir, cfg.Ann, cfg.EmbeddingModel),
		debounce:          debounce,
		readerWaitTimeout: readerWait,
		logger:            logger,
	}
}

// Load reads meta.json, the chunk-store artifacts, the file-hash map, and
// the call graph. It clears in-memory state and reports reindexRequired
// when meta is missing, its version/model/dimension disagree with the
// configured embedder, or the chunk store fails validation.
func (c *Cache) Load() (reindexRequired bool, err error) {
	metaPath, hashesPath, graphPath := cacheFilePaths(c.dir)

	meta, merr := loadMeta(metaPath)
	if merr != nil {
		c.resetState()
		if os.IsNotExist(merr) {
			return true, nil
		}
		return true, fmt.Errorf("load cache meta: %w", merr)
	}
	if meta.Version != metaVersion ||
		meta.EmbeddingModel != c.embeddingModel ||
		(c.dim != 0 && meta.EmbeddingDimension != c.dim) {
		c.logger.Warn("cache meta disagrees with configured embedder, clearing state",
			"meta_model", meta.EmbeddingModel, "configured_model", c.embeddingModel)
		c.resetState()
		return true, nil
	}

	store, serr := chunkstore.Open(c.dir, c.mode)
	if serr != nil {
		c.resetState()
		if os.IsNotExist(serr) {
			return true, nil
		}
		wrapped := cerrors.StoreCorruptError("chunk store failed validation on load", serr)
		c.appendCorruptionLog(wrapped)
		return true, wrapped
	}

	hashes, herr := loadFileHashes(hashesPath)
	if herr != nil {
		store.Close()
		c.resetState()
		return true, herr
	}
	graph, gerr := loadCallGraph(graphPath)
	if gerr != nil {
		store.Close()
		c.resetState()
		return true, gerr
	}

	c.mu.Lock()
	c.store = store
	c.baseCount = store.Length()
	c.overlay = nil
	c.files = store.Files()
	c.dim = store.Dim()
	c.fileIndex = map[string]int{}
	for i, f := range c.files {
		c.fileIndex[f] = i
	}
	c.fileHashes = hashes
	c.callGraph = graph
	c.meta = meta
	c.dirty = false
	c.mu.Unlock()

	return false, nil
}

func (c *Cache) resetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		c.store.Close()
	}
	c.store = nil
	c.baseCount = 0
	c.overlay = nil
	c.files = nil
	c.fileIndex = map[string]int{}
	c.fileHashes = map[string]FileHashEntry{}
	c.callGraph = map[string]CallGraphEntry{}
	c.meta = Meta{}
	c.ann.Invalidate()
}

func (c *Cache) appendCorruptionLog(err error) {
	path := filepath.Join(c.dir, "corruption.log")
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), err.Error())
	f, oerr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if oerr != nil {
		c.logger.Error("failed to open corruption.log", "err", oerr)
		return
	}
	defer f.Close()
	if _, werr := f.WriteString(line); werr != nil {
		c.logger.Error("failed to append corruption.log", "err", werr)
	}
}

// Length returns the number of chunks currently held, persisted or staged.
func (c *Cache) Length() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCount + len(c.overlay)
}

// Dim returns the embedding dimension, 0 if not yet established.
func (c *Cache) Dim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// GetVector implements ann.VectorSource and serves get_chunk_vector.
func (c *Cache) GetVector(i int) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getVectorLocked(i)
}

func (c *Cache) getVectorLocked(i int) ([]float32, error) {
	if i < 0 || i >= c.baseCount+len(c.overlay) {
		return nil, fmt.Errorf("cache: chunk index %d out of range", i)
	}
	if i < c.baseCount {
		return c.store.GetVector(i)
	}
	return c.overlay[i-c.baseCount].vector, nil
}

// GetContent serves get_chunk_content.
func (c *Cache) GetContent(i int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= c.baseCount+len(c.overlay) {
		return "", fmt.Errorf("cache: chunk index %d out of range", i)
	}
	if i < c.baseCount {
		return c.store.GetContent(i)
	}
	return c.overlay[i-c.baseCount].content, nil
}

// GetRecord returns the i-th chunk's file id and line span.
func (c *Cache) GetRecord(i int) (fileID int, startLine, endLine uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= c.baseCount+len(c.overlay) {
		return 0, 0, 0, fmt.Errorf("cache: chunk index %d out of range", i)
	}
	if i < c.baseCount {
		return c.store.GetRecord(i)
	}
	e := c.overlay[i-c.baseCount]
	return int(e.fileID), e.startLine, e.endLine, nil
}

// FilePath returns the workspace-relative path for a file id.
func (c *Cache) FilePath(fileID int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fileID < 0 || fileID >= len(c.files) {
		return "", fmt.Errorf("cache: file id %d out of range", fileID)
	}
	return c.files[fileID], nil
}

// StartRead registers a reader. Fails with a SaveInProgress error if a
// write is currently running.
func (c *Cache) StartRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing {
		return cerrors.SaveInProgressError("cache save in progress")
	}
	c.activeReads++
	return nil
}

// EndRead releases a reader registered via StartRead.
func (c *Cache) EndRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeReads > 0 {
		c.activeReads--
	}
}

// AddToStore appends a chunk at the next position, incrementally
// extending the ANN index when possible, and schedules a debounced save.
func (c *Cache) AddToStore(chunk Chunk) (label int, err error) {
	c.mu.Lock()
	if c.dim == 0 {
		c.dim = len(chunk.Vector)
	} else if len(chunk.Vector) != c.dim {
		c.mu.Unlock()
		return 0, cerrors.DimensionMismatchError(
			fmt.Sprintf("chunk vector has %d components, store dim is %d", len(chunk.Vector), c.dim), nil)
	}

	fileID, ok := c.fileIndex[chunk.File]
	if !ok {
		fileID = len(c.files)
		c.files = append(c.files, chunk.File)
		c.fileIndex[chunk.File] = fileID
	}

	label = c.baseCount + len(c.overlay)
	vec := append([]float32(nil), chunk.Vector...)
	c.overlay = append(c.overlay, overlayChunk{
		fileID:    uint32(fileID),
		startLine: chunk.StartLine,
		endLine:   chunk.EndLine,
		content:   chunk.Content,
		vector:    vec,
	})
	c.dirty = true
	c.mu.Unlock()

	if appendErr := c.ann.AppendOne(label, vec); appendErr != nil {
		c.logger.Debug("ann incremental append unavailable, index needs rebuild", "err", appendErr)
	}

	c.scheduleSave()
	return label, nil
}

// RemoveFileFromStore drops every chunk belonging to file. Any mutation
// shape other than a trailing append invalidates the ANN index.
func (c *Cache) RemoveFileFromStore(file string) error {
	c.mu.Lock()
	fileID, ok := c.fileIndex[file]
	if !ok {
		c.mu.Unlock()
		return nil
	}

	kept := make([]overlayChunk, 0, c.baseCount+len(c.overlay))
	for i := 0; i < c.baseCount; i++ {
		fid, start, end, err := c.store.GetRecord(i)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if fid == fileID {
			continue
		}
		vec, err := c.store.GetVector(i)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		content, err := c.store.GetContent(i)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		kept = append(kept, overlayChunk{fileID: uint32(fid), startLine: start, endLine: end, content: content, vector: vec})
	}
	for _, e := range c.overlay {
		if int(e.fileID) == fileID {
			continue
		}
		kept = append(kept, e)
	}

	if c.store != nil {
		c.store.Close()
	}
	c.store = nil
	c.baseCount = 0
	c.overlay = kept
	c.dirty = true
	c.mu.Unlock()

	c.ann.Invalidate()
	c.scheduleSave()
	return nil
}

// SetFileHash records file's content hash for the next pre-filter pass.
func (c *Cache) SetFileHash(file string, entry FileHashEntry) {
	c.mu.Lock()
	c.fileHashes[file] = entry
	c.dirty = true
	c.mu.Unlock()
	c.scheduleSave()
}

// RemoveFileHash drops file's recorded hash, used when the indexer detects
// the file no longer exists on disk.
func (c *Cache) RemoveFileHash(file string) {
	c.mu.Lock()
	delete(c.fileHashes, file)
	c.dirty = true
	c.mu.Unlock()
	c.scheduleSave()
}

// GetFileHash returns file's recorded hash, if any.
func (c *Cache) GetFileHash(file string) (FileHashEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.fileHashes[file]
	return e, ok
}

// FileHashes returns a copy of the whole file-hash map, for the indexer's
// deletion-detection pass (stored hashes without a matching current file).
func (c *Cache) FileHashes() map[string]FileHashEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFileHashMap(c.fileHashes)
}

// SetCallGraphEntry records file's extracted definitions and calls.
func (c *Cache) SetCallGraphEntry(file string, entry CallGraphEntry) {
	c.mu.Lock()
	c.callGraph[file] = entry
	c.dirty = true
	c.mu.Unlock()
	c.scheduleSave()
}

// CallGraph returns a copy of the whole per-file call-graph map.
func (c *Cache) CallGraph() map[string]CallGraphEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyCallGraphMap(c.callGraph)
}

// EnsureANN builds or loads the ANN index over the current chunk set.
func (c *Cache) EnsureANN(ctx context.Context) (ann.Backend, error) {
	return c.ann.Ensure(ctx, c)
}

// QueryANN searches the live ANN index, if any.
func (c *Cache) QueryANN(q []float32, k int) []int {
	return c.ann.QueryANN(q, k)
}

// AnnStats reports the ANN manager's lifecycle state, config, and the
// meta of its currently loaded index, for the "ann_config stats"
// operation (spec.md §6).
func (c *Cache) AnnStats() (ann.State, ann.Config, ann.Meta) {
	return c.ann.Stats()
}

// SetAnnEfSearch tunes query-time search width without a rebuild, per
// AnnConfig.EfSearch's runtime-tunable contract.
func (c *Cache) SetAnnEfSearch(ef int) {
	c.ann.SetEfSearch(ef)
}

// InvalidateANN marks the ANN index dirty so the next EnsureANN call
// performs a full rebuild, for the "ann_config rebuild" operation.
func (c *Cache) InvalidateANN() {
	c.ann.Invalidate()
}

// Telemetry returns the most recent chunk-store write's rolling counters.
func (c *Cache) Telemetry() chunkstore.Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

// Clear removes the entire cache directory and resets in-memory state.
func (c *Cache) Clear() error {
	c.mu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.mu.Unlock()

	c.resetState()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clear cache directory: %w", err)
	}
	return nil
}

// Save schedules a debounced write. When throwOnError is true it blocks
// for the result of the next scheduled write; otherwise it returns
// immediately and a failed background save is only logged, retried on
// the next tick.
func (c *Cache) Save(throwOnError bool) error {
	if !throwOnError {
		c.mu.Lock()
		c.scheduleSaveLocked()
		c.mu.Unlock()
		return nil
	}

	ch := make(chan error, 1)
	c.mu.Lock()
	c.saveWaiters = append(c.saveWaiters, ch)
	c.scheduleSaveLocked()
	c.mu.Unlock()
	return <-ch
}

// scheduleSave acquires the lock and debounces a background save; used by
// mutators that have already released c.mu (fire-and-forget, no error path).
func (c *Cache) scheduleSave() {
	c.mu.Lock()
	c.scheduleSaveLocked()
	c.mu.Unlock()
}

// scheduleSaveLocked resets the debounce timer, coalescing any save
// requested within the window into the single pending write, the same
// way internal/watcher's Debouncer resets its AfterFunc per event.
func (c *Cache) scheduleSaveLocked() {
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(c.debounce, c.flush)
}

func (c *Cache) flush() {
	c.mu.Lock()
	if c.writing {
		c.scheduleSaveLocked()
		c.mu.Unlock()
		return
	}
	waiters := c.saveWaiters
	c.saveWaiters = nil
	c.writing = true
	c.mu.Unlock()

	if !c.waitForReadersWithTimeout(c.readerWaitTimeout) {
		c.mu.Lock()
		c.writing = false
		c.scheduleSaveLocked()
		c.mu.Unlock()
		c.logger.Warn("cache save deferred: readers did not drain before timeout", "timeout", c.readerWaitTimeout)
		err := cerrors.SaveInProgressError("save aborted waiting for readers")
		for _, w := range waiters {
			w <- err
		}
		return
	}

	err := c.doWrite()

	c.mu.Lock()
	c.writing = false
	c.dirty = err != nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("cache save failed", "err", err)
	}
	for _, w := range waiters {
		w <- err
	}
}

func (c *Cache) waitForReadersWithTimeout(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		n := c.activeReads
		c.mu.Unlock()
		if n == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *Cache) doWrite() error {
	c.mu.Lock()
	baseCount := c.baseCount
	overlaySnapshot := append([]overlayChunk(nil), c.overlay...)
	storeRef := c.store
	files := append([]string(nil), c.files...)
	dim := c.dim
	meta := c.meta
	fileHashesSnapshot := copyFileHashMap(c.fileHashes)
	callGraphSnapshot := copyCallGraphMap(c.callGraph)
	c.mu.Unlock()

	total := baseCount + len(overlaySnapshot)
	chunks := make([]chunkstore.ChunkInput, total)
	for i := 0; i < baseCount; i++ {
		fid, start, end, err := storeRef.GetRecord(i)
		if err != nil {
			return fmt.Errorf("snapshot record %d: %w", i, err)
		}
		chunks[i] = chunkstore.ChunkInput{FileID: uint32(fid), StartLine: start, EndLine: end}
	}
	for j, e := range overlaySnapshot {
		chunks[baseCount+j] = chunkstore.ChunkInput{FileID: e.fileID, StartLine: e.startLine, EndLine: e.endLine}
	}

	getContent := func(_ chunkstore.ChunkInput, i int) (string, error) {
		if i < baseCount {
			return storeRef.GetContent(i)
		}
		return overlaySnapshot[i-baseCount].content, nil
	}
	getVector := func(_ chunkstore.ChunkInput, i int) ([]float32, error) {
		if i < baseCount {
			return storeRef.GetVector(i)
		}
		return overlaySnapshot[i-baseCount].vector, nil
	}

	writeOpts := chunkstore.WriteOptions{
		VectorLoadMode: c.mode,
		GetContent:     getContent,
		GetVector:      getVector,
		PreRename: func() error {
			if storeRef != nil {
				return storeRef.Close()
			}
			return nil
		},
	}

	tel, err := chunkstore.WriteAll(c.dir, chunks, files, dim, writeOpts)
	c.mu.Lock()
	c.telemetry = tel
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write chunk store: %w", err)
	}

	newStore, err := chunkstore.Open(c.dir, c.mode)
	if err != nil {
		return fmt.Errorf("reopen chunk store after save: %w", err)
	}

	meta.Version = metaVersion
	meta.EmbeddingModel = c.embeddingModel
	meta.EmbeddingDimension = dim
	meta.Workspace = c.workspace
	meta.ChunksStored = total
	meta.FilesIndexed = len(files)
	meta.LastSaveTime = time.Now()

	metaPath, hashesPath, graphPath := cacheFilePaths(c.dir)
	if err := saveMeta(metaPath, meta); err != nil {
		newStore.Close()
		return err
	}
	if err := saveFileHashes(hashesPath, fileHashesSnapshot); err != nil {
		newStore.Close()
		return err
	}
	if err := saveCallGraph(graphPath, callGraphSnapshot); err != nil {
		newStore.Close()
		return err
	}

	c.mu.Lock()
	if c.baseCount != baseCount {
		// A concurrent RemoveFileFromStore reset baseCount/overlay while
		// this write was in flight, so the generation we just wrote no
		// longer matches live state. Discard it and let the next
		// scheduled save persist the current state instead.
		c.mu.Unlock()
		newStore.Close()
		c.scheduleSave()
		return nil
	}

	c.store = newStore
	c.baseCount = total
	c.overlay = mergeOverlayAfterWrite(c.overlay, overlaySnapshot)
	c.meta = meta
	c.mu.Unlock()

	return nil
}

// mergeOverlayAfterWrite returns the chunks appended to current after
// snapshot was taken for an in-flight doWrite: snapshot was fully
// persisted, so only the tail beyond it (appended while the write was
// running without c.mu held) still needs to live in the overlay.
func mergeOverlayAfterWrite(current, snapshot []overlayChunk) []overlayChunk {
	if len(current) > len(snapshot) {
		return append([]overlayChunk(nil), current[len(snapshot):]...)
	}
	return nil
}

func copyFileHashMap(m map[string]FileHashEntry) map[string]FileHashEntry {
	out := make(map[string]FileHashEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCallGraphMap(m map[string]CallGraphEntry) map[string]CallGraphEntry {
	out := make(map[string]CallGraphEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
