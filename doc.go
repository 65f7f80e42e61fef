// Package piramid is an embedded-but-served vector database.
//
// It stores high-dimensional float32 vectors together with free-form text
// and structured metadata, and answers approximate k-nearest-neighbor
// queries with optional metadata filters. This package is the core engine:
// a crash-safe per-collection storage layer (memory-mapped data file,
// offset index, write-ahead log, checkpointing), a pluggable ANN index
// abstraction (Flat, HNSW, IVF), a quantization codec on the write path,
// a filter-aware search pipeline, and a concurrent collection registry.
//
// # Key components
//
//   - Registry: the process-wide, concurrency-safe map of named collections.
//   - Collection: per-collection lifecycle (open/replay/checkpoint/close).
//   - pkg/storage: the mmap data file, offset map, and write-ahead log.
//   - pkg/index: the ANN abstraction and its Flat/HNSW/IVF implementations.
//   - pkg/search: the filter-aware search pipeline built above the index.
//   - pkg/quantization: the per-vector scalar int8 codec used on the write path.
//
// The HTTP surface, embedding providers, dashboard, configuration loader,
// CLI (beyond the bundled admin tool in cmd/piramid), and benchmark harness
// are collaborators that drive this package; they are not part of it.
package piramid
