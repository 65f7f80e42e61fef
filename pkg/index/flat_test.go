package index

import (
	"bytes"
	"testing"

	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
)

func TestFlatInsertSearchExact(t *testing.T) {
	idx := NewFlat(3, Dot, metric.Scalar)
	ids := make([]uuid.UUID, 5)
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}, {1, 1, 1}}
	for i, v := range vecs {
		ids[i] = uuid.New()
		if err := idx.Insert(ids[i], v); err != nil {
			t.Fatal(err)
		}
	}

	results, err := idx.Search([]float32{1, 1, 1}, 2, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != ids[4] {
		t.Fatalf("best match should be the identical vector, got %v", results[0])
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("results not ordered best-first: %+v", results)
	}
}

func TestFlatDuplicateInsertRejected(t *testing.T) {
	idx := NewFlat(2, Cosine, metric.Scalar)
	id := uuid.New()
	if err := idx.Insert(id, []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(id, []float32{3, 4}); err == nil {
		t.Fatal("expected error inserting duplicate id")
	}
}

func TestFlatRemove(t *testing.T) {
	idx := NewFlat(2, Cosine, metric.Scalar)
	id := uuid.New()
	idx.Insert(id, []float32{1, 2})
	if !idx.Remove(id) {
		t.Fatal("remove should report true for present id")
	}
	if idx.Remove(id) {
		t.Fatal("remove should report false for absent id")
	}
	if idx.Len() != 0 {
		t.Fatalf("len = %d, want 0", idx.Len())
	}
}

func TestFlatVisitorFiltersCandidates(t *testing.T) {
	idx := NewFlat(2, Dot, metric.Scalar)
	keep := uuid.New()
	skip := uuid.New()
	idx.Insert(keep, []float32{1, 1})
	idx.Insert(skip, []float32{10, 10})

	results, err := idx.Search([]float32{1, 1}, 5, 0, func(id uuid.UUID) bool { return id == keep })
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != keep {
		t.Fatalf("visitor should have excluded the other id, got %+v", results)
	}
}

func TestFlatSaveLoadRoundTrip(t *testing.T) {
	idx := NewFlat(3, Euclidean, metric.Scalar)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	vecs := [][]float32{{1, 2, 3}, {4, 5, 6}, {-1, -2, -3}}
	for i, v := range vecs {
		idx.Insert(ids[i], v)
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFlat(&buf, 3, Euclidean, metric.Scalar)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("loaded len = %d, want %d", loaded.Len(), idx.Len())
	}

	query := []float32{1, 2, 3}
	want, err := idx.Search(query, 3, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Search(query, 3, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != len(got) {
		t.Fatalf("result count mismatch: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ID != got[i].ID || want[i].Score != got[i].Score {
			t.Fatalf("result %d mismatch: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func TestFlatLoadCorruptBlob(t *testing.T) {
	idx := NewFlat(2, Cosine, metric.Scalar)
	idx.Insert(uuid.New(), []float32{1, 2})
	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF
	if _, err := LoadFlat(bytes.NewReader(data), 2, Cosine, metric.Scalar); err == nil {
		t.Fatal("expected error loading corrupted flat index blob")
	}
}
