package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
)

// fakeIndex returns a fixed candidate list regardless of query, recording
// the k it was asked for so tests can assert overfetch behavior.
type fakeIndex struct {
	candidates []Candidate
	lastK      int
}

func (f *fakeIndex) Search(query []float32, k int, override int, visitor func(uuid.UUID) bool) ([]Candidate, error) {
	f.lastK = k
	out := append([]Candidate(nil), f.candidates...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type fakeDoc struct {
	vector   []float32
	text     string
	metadata map[string]any
	order    int
}

type fakeSource struct {
	docs map[uuid.UUID]fakeDoc
	fail map[uuid.UUID]bool
}

func (s *fakeSource) Fetch(id uuid.UUID) (Document, bool, error) {
	if s.fail[id] {
		return Document{}, false, fmt.Errorf("simulated corruption")
	}
	d, ok := s.docs[id]
	if !ok {
		return Document{}, false, nil
	}
	return Document{Vector: d.vector, Text: d.text, Metadata: d.metadata, Order: d.order}, true, nil
}

func makeIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestEnginePreflightRejectsWrongDim(t *testing.T) {
	e := NewEngine(metric.Kernel{Metric: metric.Cosine, Mode: metric.Scalar}, 4, false, 0, nil)
	if _, err := e.Preflight([]float32{1, 2}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEnginePreflightRejectsNaN(t *testing.T) {
	e := NewEngine(metric.Kernel{Metric: metric.Cosine, Mode: metric.Scalar}, 2, false, 0, nil)
	nan := float32(0)
	nan = nan / nan
	if _, err := e.Preflight([]float32{nan, 1}); err == nil {
		t.Fatal("expected NaN rejection")
	}
}

func TestEngineSearchOrdersByRescoredSimilarity(t *testing.T) {
	ids := makeIDs(3)
	idx := &fakeIndex{candidates: []Candidate{
		{ID: ids[0], Score: 0.1},
		{ID: ids[1], Score: 0.1},
		{ID: ids[2], Score: 0.1},
	}}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{
		ids[0]: {vector: []float32{1, 0}, order: 0},
		ids[1]: {vector: []float32{0, 1}, order: 1},
		ids[2]: {vector: []float32{1, 1}, order: 2},
	}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 0, nil)

	res, err := e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d results, want 3", len(res))
	}
	// dot((1,0),(1,0))=1, dot((1,0),(1,1))=1, dot((1,0),(0,1))=0
	// ids[0] and ids[2] tie at score 1; ids[0] has lower insertion order.
	if res[0].ID != ids[0] {
		t.Fatalf("expected ids[0] first (tie broken by order), got %v", res[0].ID)
	}
	if res[2].ID != ids[1] {
		t.Fatalf("expected ids[1] last (lowest score), got %v", res[2].ID)
	}
}

func TestEngineOverfetchesWhenFilterPresent(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{ID: uuid.New(), Score: 1}}}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 3, nil)

	f := &Filter{Conditions: []Condition{{Key: "x", Op: OpEq, Value: int64(1)}}}
	_, _ = e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 5, Filter: f})
	if idx.lastK != 15 {
		t.Fatalf("expected k' = 5*3 = 15, got %d", idx.lastK)
	}

	_, _ = e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 5})
	if idx.lastK != 5 {
		t.Fatalf("expected k' = k = 5 without a filter, got %d", idx.lastK)
	}
}

func TestEngineFilterDropsNonMatches(t *testing.T) {
	ids := makeIDs(2)
	idx := &fakeIndex{candidates: []Candidate{
		{ID: ids[0], Score: 1},
		{ID: ids[1], Score: 1},
	}}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{
		ids[0]: {vector: []float32{1, 0}, metadata: map[string]any{"tag": "keep"}},
		ids[1]: {vector: []float32{1, 0}, metadata: map[string]any{"tag": "drop"}},
	}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 10, nil)
	f := &Filter{Conditions: []Condition{{Key: "tag", Op: OpEq, Value: "keep"}}}

	res, err := e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 10, Filter: f})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != ids[0] {
		t.Fatalf("expected only ids[0] to survive the filter, got %+v", res)
	}
}

func TestEngineDropsFetchFailuresWithoutFailingTheCall(t *testing.T) {
	ids := makeIDs(2)
	idx := &fakeIndex{candidates: []Candidate{
		{ID: ids[0], Score: 1},
		{ID: ids[1], Score: 1},
	}}
	src := &fakeSource{
		docs: map[uuid.UUID]fakeDoc{ids[1]: {vector: []float32{1, 0}}},
		fail: map[uuid.UUID]bool{ids[0]: true},
	}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 10, nil)

	res, err := e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != ids[1] {
		t.Fatalf("expected only the healthy id to survive, got %+v", res)
	}
}

func TestEngineZeroMetadataFilterMatchesEmptyResultSet(t *testing.T) {
	idx := &fakeIndex{}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 10, nil)
	f := &Filter{Conditions: []Condition{{Key: "x", Op: OpEq, Value: int64(1)}}}

	res, err := e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 10, Filter: f})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Fatalf("expected no results, got %d", len(res))
	}
}

func TestEngineRejectsNonPositiveK(t *testing.T) {
	idx := &fakeIndex{}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 10, nil)
	if _, err := e.Search(idx, src, Query{Vector: []float32{1, 0}, K: 0}); err == nil {
		t.Fatal("expected error for k <= 0")
	}
}

func TestBatchSearchPreservesOrdering(t *testing.T) {
	ids := makeIDs(1)
	idx := &fakeIndex{candidates: []Candidate{{ID: ids[0], Score: 1}}}
	src := &fakeSource{docs: map[uuid.UUID]fakeDoc{ids[0]: {vector: []float32{1, 0}}}}
	e := NewEngine(metric.Kernel{Metric: metric.Dot, Mode: metric.Scalar}, 2, false, 10, nil)

	queries := make([]Query, 8)
	for i := range queries {
		queries[i] = Query{Vector: []float32{1, 0}, K: 1}
	}
	results, errs := e.BatchSearch(context.Background(), idx, src, queries)
	if len(results) != len(queries) {
		t.Fatalf("got %d result slots, want %d", len(results), len(queries))
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("query %d: unexpected error: %v", i, err)
		}
		if len(results[i]) != 1 || results[i][0].ID != ids[0] {
			t.Fatalf("query %d: unexpected result %+v", i, results[i])
		}
	}
}
