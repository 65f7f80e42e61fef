package collection

import (
	"context"
	"fmt"

	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/search"
	"github.com/google/uuid"
)

// indexAdapter narrows a pkg/index.Index (uses index.SearchOverride and
// index.Visitor) to pkg/search.Index (plain int and func(uuid.UUID) bool),
// so the search engine stays ignorant of the ANN package's named types
// (§4.12, §9 "the search engine never branches on which variant it has").
type indexAdapter struct{ idx index.Index }

func (a indexAdapter) Search(query []float32, k int, override int, visitor func(uuid.UUID) bool) ([]search.Candidate, error) {
	var v index.Visitor
	if visitor != nil {
		v = index.Visitor(visitor)
	}
	cands, err := a.idx.Search(query, k, index.SearchOverride(override), v)
	if err != nil {
		return nil, err
	}
	out := make([]search.Candidate, len(cands))
	for i, c := range cands {
		out[i] = search.Candidate{ID: c.ID, Score: c.Score}
	}
	return out, nil
}

// docSource adapts a Collection's offset map + data file + codec into a
// search.DocumentSource, fetching and dequantizing one document per call
// (§4.12 step 3).
type docSource struct{ c *Collection }

func (d docSource) Fetch(id uuid.UUID) (search.Document, bool, error) {
	entry, ok := d.c.offsets.Get(id)
	if !ok {
		return search.Document{}, false, nil
	}
	raw, err := d.c.data.ReadAt(entry.Offset, uint64(entry.Length))
	if err != nil {
		return search.Document{}, false, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return search.Document{}, false, err
	}
	order, _ := d.c.offsets.OrderIndex(id)
	return search.Document{
		Vector:   doc.Vector,
		Text:     doc.Text,
		Metadata: map[string]any(doc.Metadata),
		Order:    order,
	}, true, nil
}

// SearchQuery is one request to Search/SearchBatch (§6 "search(query_vector,
// k, filter?, overrides?)").
type SearchQuery struct {
	Vector   []float32
	K        int
	Filter   *search.Filter
	Override int
}

// Search runs the full filter-aware pipeline (§4.12) against this
// collection's index and documents. An empty (not-yet-dimensioned)
// collection returns an empty result rather than an error (§8 "empty
// collection search returns empty list").
func (c *Collection) Search(q SearchQuery) ([]SearchResult, error) {
	if err := c.lockRead(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	if err := c.readableLocked(); err != nil {
		return nil, err
	}
	if c.engine == nil {
		return nil, nil
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", q.K)
	}
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	results, err := c.engine.Search(indexAdapter{c.idx}, docSource{c}, search.Query{
		Vector: q.Vector, K: q.K, Filter: q.Filter, Override: q.Override,
	})
	if err != nil {
		return nil, err
	}
	return toSearchResults(results), nil
}

// SearchBatch runs Search for each query, preserving input order in the
// output (§6 "search_batch(...) -> list of result lists"); per-query
// failures land in the matching errs slot without failing the others.
func (c *Collection) SearchBatch(ctx context.Context, queries []SearchQuery) ([][]SearchResult, []error) {
	if err := c.lockRead(); err != nil {
		errs := make([]error, len(queries))
		for i := range errs {
			errs[i] = err
		}
		return make([][]SearchResult, len(queries)), errs
	}
	defer c.mu.RUnlock()
	if err := c.readableLocked(); err != nil {
		errs := make([]error, len(queries))
		for i := range errs {
			errs[i] = err
		}
		return make([][]SearchResult, len(queries)), errs
	}
	if c.engine == nil {
		return make([][]SearchResult, len(queries)), make([]error, len(queries))
	}

	qs := make([]search.Query, len(queries))
	for i, q := range queries {
		qs[i] = search.Query{Vector: q.Vector, K: q.K, Filter: q.Filter, Override: q.Override}
	}
	results, errs := c.engine.BatchSearch(ctx, indexAdapter{c.idx}, docSource{c}, qs)

	out := make([][]SearchResult, len(results))
	for i, rs := range results {
		out[i] = toSearchResults(rs)
	}
	return out, errs
}

func toSearchResults(results []search.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Score: r.Score, Text: r.Text, Metadata: Metadata(r.Metadata)}
	}
	return out
}
