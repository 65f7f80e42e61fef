package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Logger is a structural mirror of the root package's Logger interface, so
// a piramid.Logger value can be passed straight in without pkg/search importing
// the root package (which will import pkg/search).
type Logger interface {
	Debug(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Candidate is one ANN hit, before rescore.
type Candidate struct {
	ID    uuid.UUID
	Score float32
}

// Index is the subset of pkg/index.Index the engine needs: approximate
// candidate retrieval. The engine never branches on which concrete ANN
// variant sits behind it (§4.12, §9 "pluggable index").
type Index interface {
	Search(query []float32, k int, override int, visitor func(uuid.UUID) bool) ([]Candidate, error)
}

// Document is what a DocumentSource returns for one id: the exact (already
// dequantized) vector plus its stored payload, and Order — the monotonic
// insertion sequence number used for deterministic top-k tie-breaking.
type Document struct {
	Vector   []float32
	Text     string
	Metadata map[string]any
	Order    int
}

// DocumentSource resolves an id to its stored document. Implementations
// read the offset map, fetch the record from the data file, and dequantize
// the vector (§4.12 step 3). found is false when the id is not (or no
// longer) present; err is reserved for I/O/corruption failures.
type DocumentSource interface {
	Fetch(id uuid.UUID) (doc Document, found bool, err error)
}

// Result is one shaped search hit (§4.12 step 6).
type Result struct {
	ID       uuid.UUID
	Score    float32
	Text     string
	Metadata map[string]any
}

// Engine orchestrates query preflight, candidate fetch, rescore, filter,
// and top-k merge (§4.12). It holds no collection state of its own; Index
// and DocumentSource are supplied per call by the collection layer.
type Engine struct {
	Kernel          metric.Kernel
	Dim             int
	NormalizeCosine bool
	FilterOverfetch int
	Logger          Logger
}

// NewEngine builds an Engine. A zero FilterOverfetch defaults to 10 per
// §4.12's default; a nil Logger defaults to a no-op.
func NewEngine(k metric.Kernel, dim int, normalizeCosine bool, filterOverfetch int, logger Logger) *Engine {
	if filterOverfetch <= 0 {
		filterOverfetch = 10
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{Kernel: k, Dim: dim, NormalizeCosine: normalizeCosine, FilterOverfetch: filterOverfetch, Logger: logger}
}

// Query is one request to Search/BatchSearch.
type Query struct {
	Vector   []float32
	K        int
	Filter   *Filter
	Override int // ef (HNSW) or nprobe (IVF) override; 0 = index default
}

// Preflight validates q against dim and rejects non-finite components
// (§4.12 step 1). It returns the vector to search with: a normalized copy
// when cosine normalization is enabled, or q itself otherwise.
func (e *Engine) Preflight(q []float32) ([]float32, error) {
	if len(q) != e.Dim {
		return nil, fmt.Errorf("query dimension %d does not match collection dimension %d", len(q), e.Dim)
	}
	for _, x := range q {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("query vector contains NaN or Inf")
		}
	}
	if e.Kernel.Metric == metric.Cosine && e.NormalizeCosine {
		return normalize(q), nil
	}
	return q, nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Search runs the full pipeline for one query (§4.12).
func (e *Engine) Search(idx Index, docs DocumentSource, q Query) ([]Result, error) {
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", q.K)
	}
	query, err := e.Preflight(q.Vector)
	if err != nil {
		return nil, err
	}

	kPrime := q.K
	if !q.Filter.Empty() {
		kPrime = q.K * e.FilterOverfetch
	}

	candidates, err := idx.Search(query, kPrime, q.Override, nil)
	if err != nil {
		return nil, fmt.Errorf("candidate fetch: %w", err)
	}

	type scored struct {
		id    uuid.UUID
		score float32
		text  string
		meta  map[string]any
		order int
	}
	rescored := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		doc, found, err := docs.Fetch(c.ID)
		if err != nil {
			e.Logger.Warn("rescore fetch failed, dropping candidate", "id", c.ID, "err", err)
			continue
		}
		if !found {
			continue
		}
		if len(doc.Vector) != e.Dim {
			e.Logger.Warn("rescore dimension drift, dropping candidate", "id", c.ID, "got", len(doc.Vector), "want", e.Dim)
			continue
		}
		if !q.Filter.Match(doc.Metadata) {
			continue
		}
		rescored = append(rescored, scored{
			id:    c.ID,
			score: e.Kernel.Similarity(query, doc.Vector),
			text:  doc.Text,
			meta:  doc.Metadata,
			order: doc.Order,
		})
	}

	sort.Slice(rescored, func(i, j int) bool {
		a, b := rescored[i], rescored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.id.String() < b.id.String()
	})

	if len(rescored) > q.K {
		rescored = rescored[:q.K]
	}

	out := make([]Result, len(rescored))
	for i, s := range rescored {
		out[i] = Result{ID: s.id, Score: s.score, Text: s.text, Metadata: s.meta}
	}
	return out, nil
}

// BatchSearch runs Search for each query concurrently (§4.12 "batch
// search"), preserving the input ordering in the output slice. A single
// query's failure fails only that query's slot, mirroring the per-call
// failure isolation described in §4.12.
func (e *Engine) BatchSearch(ctx context.Context, idx Index, docs DocumentSource, queries []Query) ([][]Result, []error) {
	results := make([][]Result, len(queries))
	errs := make([]error, len(queries))

	g, _ := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			r, err := e.Search(idx, docs, q)
			results[i] = r
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
