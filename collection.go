package piramid

import (
	"context"
	"errors"
	"time"

	"github.com/gbchill/piramid/pkg/collection"
	"github.com/google/uuid"
)

// Collection is a handle to one open, named collection, resolved via
// Registry.Create or Registry.Collection. Every method translates
// pkg/collection's sentinel errors into this package's *Error/Kind
// taxonomy (§7) and the internal document/search types into the public
// Document/SearchResult shapes (§6).
type Collection struct {
	name        string
	inner       *collection.Collection
	lockTimeout time.Duration
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Insert stores a new document, generating its id (§6 "insert(vector,
// text?, metadata?) -> new id").
func (c *Collection) Insert(vector []float32, text string, meta Metadata) (uuid.UUID, error) {
	id, err := c.inner.Insert(vector, text, collection.Metadata(meta))
	return id, classifyWrite("insert", err)
}

// InsertItem is one document submitted to InsertMany.
type InsertItem struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// InsertMany inserts every item under one write-lock hold, all-or-nothing
// (§6 "insert_many(list) -> list of ids, all-or-nothing per single WAL
// batch").
func (c *Collection) InsertMany(items []InsertItem) ([]uuid.UUID, error) {
	internal := make([]collection.InsertItem, len(items))
	for i, it := range items {
		internal[i] = collection.InsertItem{Vector: it.Vector, Text: it.Text, Metadata: collection.Metadata(it.Metadata)}
	}
	ids, err := c.inner.InsertMany(internal)
	return ids, classifyWrite("insert_many", err)
}

// Upsert writes vector/text/metadata under id, generating a fresh id when
// id is nil (§6 "upsert(id?, vector, text?, metadata?) -> id").
func (c *Collection) Upsert(id *uuid.UUID, vector []float32, text string, meta Metadata) (uuid.UUID, error) {
	newID, err := c.inner.Upsert(id, vector, text, collection.Metadata(meta))
	return newID, classifyWrite("upsert", err)
}

// UpdateVector replaces only the vector of an existing document.
func (c *Collection) UpdateVector(id uuid.UUID, vector []float32) error {
	return classifyWrite("update_vector", c.inner.UpdateVector(id, vector))
}

// UpdateMetadata replaces only the metadata of an existing document.
func (c *Collection) UpdateMetadata(id uuid.UUID, meta Metadata) error {
	return classifyWrite("update_metadata", c.inner.UpdateMetadata(id, collection.Metadata(meta)))
}

// Update replaces vector and/or metadata on an existing document; a nil
// field leaves that part of the document unchanged (§6 "update(id,
// vector?, metadata?)").
func (c *Collection) Update(id uuid.UUID, vector []float32, meta Metadata) error {
	var m collection.Metadata
	if meta != nil {
		m = collection.Metadata(meta)
	}
	return classifyWrite("update", c.inner.Update(id, collection.UpdateFields{Vector: vector, Metadata: m}))
}

// Delete removes a document, reporting whether it was present.
func (c *Collection) Delete(id uuid.UUID) (bool, error) {
	ok, err := c.inner.Delete(id)
	return ok, classifyWrite("delete", err)
}

// DeleteMany deletes every id present, returning the count removed.
func (c *Collection) DeleteMany(ids []uuid.UUID) (int, error) {
	n, err := c.inner.DeleteMany(ids)
	return n, classifyWrite("delete_many", err)
}

// Get fetches a document by id (§6 "get(id) -> document or not found").
func (c *Collection) Get(id uuid.UUID) (Document, error) {
	doc, err := c.inner.Get(id)
	if err != nil {
		return Document{}, classifyRead("get", err)
	}
	return Document{ID: doc.ID, Vector: doc.Vector, Text: doc.Text, Metadata: Metadata(doc.Metadata)}, nil
}

// Page is one page of ListDocuments.
type Page struct {
	Documents []Document
	Total     int
}

// ListDocuments returns one page of documents in insertion order (§6
// "list_documents(offset, limit) -> page").
func (c *Collection) ListDocuments(offset, limit int) (Page, error) {
	page, err := c.inner.ListDocuments(offset, limit)
	if err != nil {
		return Page{}, classifyRead("list_documents", err)
	}
	docs := make([]Document, len(page.Documents))
	for i, d := range page.Documents {
		docs[i] = Document{ID: d.ID, Vector: d.Vector, Text: d.Text, Metadata: Metadata(d.Metadata)}
	}
	return Page{Documents: docs, Total: page.Total}, nil
}

// SearchResult is one shaped search hit (§4.12 step 6).
type SearchResult struct {
	ID       uuid.UUID
	Score    float32
	Text     string
	Metadata Metadata
}

// SearchOverrides carries a per-query HNSW ef / IVF nprobe override; zero
// uses the index's configured default.
type SearchOverrides struct {
	Override int
}

// Search runs the full filter-aware pipeline (§4.12) for one query vector.
func (c *Collection) Search(query []float32, k int, filter *Filter, overrides SearchOverrides) ([]SearchResult, error) {
	results, err := c.inner.Search(collection.SearchQuery{
		Vector: query, K: k, Filter: filter.toSearch(), Override: overrides.Override,
	})
	if err != nil {
		return nil, classifyRead("search", err)
	}
	return toPublicResults(results), nil
}

// BatchQuery is one query submitted to SearchBatch.
type BatchQuery struct {
	Vector    []float32
	K         int
	Filter    *Filter
	Overrides SearchOverrides
}

// SearchBatch runs Search for each query, possibly in parallel across the
// collection's read lock, preserving input order in the output (§6
// "search_batch(...) -> list of result lists").
func (c *Collection) SearchBatch(ctx context.Context, queries []BatchQuery) ([][]SearchResult, []error) {
	internal := make([]collection.SearchQuery, len(queries))
	for i, q := range queries {
		internal[i] = collection.SearchQuery{Vector: q.Vector, K: q.K, Filter: q.Filter.toSearch(), Override: q.Overrides.Override}
	}
	results, errs := c.inner.SearchBatch(ctx, internal)
	out := make([][]SearchResult, len(results))
	for i, rs := range results {
		out[i] = toPublicResults(rs)
	}
	for i, err := range errs {
		errs[i] = classifyRead("search_batch", err)
	}
	return out, errs
}

func toPublicResults(results []collection.SearchResult) []SearchResult {
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Score: r.Score, Text: r.Text, Metadata: Metadata(r.Metadata)}
	}
	return out
}

// Checkpoint runs the checkpoint sequence (§4.13): flush the data file,
// serialize sidecars, append+fsync a Checkpoint WAL record, then truncate
// the WAL.
func (c *Collection) Checkpoint() error {
	return wrapErr("checkpoint", KindInternal, c.inner.Checkpoint())
}

// Stats snapshots this collection's counters (§6 "stats(name)").
func (c *Collection) Stats() Stats {
	s := c.inner.Stats()
	return Stats{
		Name:           s.Name,
		Count:          s.Count,
		Dim:            s.Dim,
		Metric:         Metric(s.Metric),
		IndexPolicy:    IndexPolicy(s.IndexPolicy),
		MemoryUsage:    s.MemoryUsage,
		BytesOnDisk:    s.BytesOnDisk,
		LastCheckpoint: s.LastCheckpoint,
	}
}

// Stats is the admin snapshot returned by Collection.Stats/Registry.Stats.
type Stats struct {
	Name           string
	Count          int
	Dim            int
	Metric         Metric
	IndexPolicy    IndexPolicy
	MemoryUsage    int64
	BytesOnDisk    int64
	LastCheckpoint time.Time
}

// Close checkpoints the collection and releases its file handles.
func (c *Collection) Close() error {
	return wrapErr("close", KindInternal, c.inner.Close())
}

// classifyWrite wraps an error from a write-path pkg/collection call,
// mapping its sentinel errors onto the write-path's Kind semantics (§7):
// dimension mismatch against an already-created collection is a Conflict,
// not a Validation error, because the collection's schema is already
// fixed.
func classifyWrite(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, collection.ErrClosed), isErr(err, collection.ErrReadOnly), isErr(err, collection.ErrLockTimeout):
		return wrapErr(op, KindResource, err)
	case isErr(err, collection.ErrNotFound):
		return wrapErr(op, KindNotFound, err)
	case isErr(err, collection.ErrDimensionMismatch):
		return wrapErr(op, KindConflict, err)
	case isErr(err, collection.ErrInvalidVector), isErr(err, collection.ErrInvalidMetadata):
		return wrapErr(op, KindValidation, err)
	case isErr(err, collection.ErrCorrupt):
		return wrapErr(op, KindCorruption, err)
	default:
		return wrapErr(op, KindInternal, err)
	}
}

// classifyRead wraps an error from a read-path pkg/collection call:
// dimension mismatch here is the query-preflight case, a Validation error.
func classifyRead(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, collection.ErrClosed), isErr(err, collection.ErrReadOnly), isErr(err, collection.ErrLockTimeout):
		return wrapErr(op, KindResource, err)
	case isErr(err, collection.ErrNotFound):
		return wrapErr(op, KindNotFound, err)
	case isErr(err, collection.ErrCorrupt):
		return wrapErr(op, KindCorruption, err)
	default:
		return wrapErr(op, KindValidation, err)
	}
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}
