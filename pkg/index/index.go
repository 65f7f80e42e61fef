// Package index implements the ANN index abstraction (§4.7) and its three
// variants: Flat (§4.8, exact, the correctness oracle), HNSW (§4.9), and
// IVF (§4.10). The uniform Index interface lets the search engine and
// collection layer stay ignorant of which variant backs a collection,
// grounded on the interface/wrapper pattern in the libravdb reference
// (internal/index/interfaces.go) and the teacher's own index package
// (pkg/index/{hnsw,flat,ivf}.go).
package index

import (
	"io"

	"github.com/google/uuid"
)

// Metric identifies the distance function an index was built for. It
// mirrors the root package's Metric without importing it, to keep this
// package free of a dependency on collection-level types.
type Metric int

const (
	Cosine Metric = iota
	Euclidean
	Dot
)

// Candidate is one result from a Search or Visitor scan: a document id and
// the raw (not rescored) metric score the index computed internally.
type Candidate struct {
	ID    uuid.UUID
	Score float32
}

// Visitor is an optional pre-filter callback: when non-nil, an index may
// skip candidates for which it returns false before scoring them, as a
// fast path for cheap filters (§4.12 "visitor is None unless a fast-path
// pre-filter is enabled").
type Visitor func(id uuid.UUID) bool

// SearchOverride carries the per-variant search-time knob: ef for HNSW,
// nprobe for IVF. Flat ignores it. Zero means "use the index's configured
// default."
type SearchOverride int

// Index is the uniform ANN interface every variant implements (§4.7).
// Implementations are not required to be safe for concurrent use; the
// collection layer is responsible for serializing writes via its own
// read-write lock (§5).
type Index interface {
	// Insert adds id/vector to the index. Implementations reject a
	// duplicate id; idempotence on repeated ids is the collection
	// layer's responsibility (composed with offset-map replacement).
	Insert(id uuid.UUID, vector []float32) error

	// Remove deletes id from the index, reporting whether it was
	// present.
	Remove(id uuid.UUID) bool

	// Search returns up to k (id, raw_score) pairs ordered best-first.
	// override selects ef (HNSW) or nprobe (IVF); zero uses the
	// configured default. visitor may be nil.
	Search(query []float32, k int, override SearchOverride, visitor Visitor) ([]Candidate, error)

	// Save serializes the index to w.
	Save(w io.Writer) error

	// Len reports the number of live (non-tombstoned) vectors.
	Len() int

	// MemoryUsage returns a best-effort accounting of bytes held.
	MemoryUsage() int64
}

// Rebuildable is implemented by index variants whose delete path leaves
// behind tombstones that need periodic compaction (§4.9). Flat and IVF
// delete in place and never implement it; the collection layer type-asserts
// for it rather than carrying a no-op on every variant.
type Rebuildable interface {
	// NeedsRebuild reports whether the tombstoned fraction has crossed the
	// configured ratio.
	NeedsRebuild() bool
	// Rebuild returns a fresh index holding only the live vectors.
	Rebuild() Index
}

// Loader is implemented by each variant's package-level Load function
// (io.Reader, dim, metric) -> (Index, error); kept as a doc convention
// rather than a method since Go has no static-constructor interfaces.
