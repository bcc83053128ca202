package chunkstore

import "errors"

// ErrStoreCorrupt is wrapped by any failure to open or validate a chunk
// store's on-disk artifact set: bad magic, version mismatch, truncated
// content, or a count/offset invariant violation.
var ErrStoreCorrupt = errors.New("chunk store corrupt")

// ErrDimensionMismatch is returned when a vector's length does not equal
// the store's configured dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")
