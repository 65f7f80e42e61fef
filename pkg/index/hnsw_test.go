package index

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
)

func defaultTestParams() HNSWParams {
	return HNSWParams{M: 8, EfConstruction: 64, EfSearch: 32, RebuildTombstoneRatio: 0.2}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestHNSWInsertSearchFindsSelf(t *testing.T) {
	idx := NewHNSW(8, Dot, metric.Scalar, defaultTestParams())
	rng := rand.New(rand.NewSource(1))

	var target uuid.UUID
	var targetVec []float32
	for i := 0; i < 50; i++ {
		id := uuid.New()
		v := randomVector(rng, 8)
		if err := idx.Insert(id, v); err != nil {
			t.Fatal(err)
		}
		if i == 25 {
			target = id
			targetVec = v
		}
	}

	results, err := idx.Search(targetVec, 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != target {
		t.Fatalf("expected exact self-match at top, got %+v", results)
	}
}

func TestHNSWRecallAgainstFlatOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dim := 16
	n := 300
	k := 10

	hnsw := NewHNSW(dim, Cosine, metric.Scalar, HNSWParams{M: 16, EfConstruction: 128, EfSearch: 96, RebuildTombstoneRatio: 0.2})
	flat := NewFlat(dim, Cosine, metric.Scalar)

	ids := make([]uuid.UUID, n)
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		vecs[i] = randomVector(rng, dim)
		if err := hnsw.Insert(ids[i], vecs[i]); err != nil {
			t.Fatal(err)
		}
		if err := flat.Insert(ids[i], vecs[i]); err != nil {
			t.Fatal(err)
		}
	}

	query := randomVector(rng, dim)
	want, err := flat.Search(query, k, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := hnsw.Search(query, k, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	wantSet := make(map[uuid.UUID]bool, len(want))
	for _, c := range want {
		wantSet[c.ID] = true
	}
	hits := 0
	for _, c := range got {
		if wantSet[c.ID] {
			hits++
		}
	}
	recall := float64(hits) / float64(len(want))
	if recall < 0.6 {
		t.Fatalf("recall@%d = %.2f, want >= 0.6 (got %d/%d hits)", k, recall, hits, len(want))
	}
}

func TestHNSWRemoveTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := NewHNSW(4, Dot, metric.Scalar, defaultTestParams())
	rng := rand.New(rand.NewSource(7))
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Insert(ids[i], randomVector(rng, 4))
	}

	if !idx.Remove(ids[0]) {
		t.Fatal("remove should report true for present id")
	}
	if idx.Remove(ids[0]) {
		t.Fatal("remove should report false for an already-removed id")
	}
	if idx.Len() != 9 {
		t.Fatalf("len = %d, want 9", idx.Len())
	}

	results, err := idx.Search(randomVector(rng, 4), 10, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range results {
		if c.ID == ids[0] {
			t.Fatal("tombstoned id should not appear in search results")
		}
	}
}

func TestHNSWRebuildCompactsTombstones(t *testing.T) {
	idx := NewHNSW(4, Dot, metric.Scalar, defaultTestParams())
	rng := rand.New(rand.NewSource(3))
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Insert(ids[i], randomVector(rng, 4))
	}
	for i := 0; i < 10; i++ {
		idx.Remove(ids[i])
	}

	rebuilt := idx.Rebuild()
	if rebuilt.Len() != 10 {
		t.Fatalf("rebuilt len = %d, want 10", rebuilt.Len())
	}
	for i := 0; i < 10; i++ {
		if _, err := rebuilt.Search(randomVector(rng, 4), 1, 0, func(id uuid.UUID) bool { return id == ids[i] }); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHNSWSaveLoadRoundTripProducesSameResults(t *testing.T) {
	idx := NewHNSW(6, Euclidean, metric.Scalar, defaultTestParams())
	rng := rand.New(rand.NewSource(99))
	ids := make([]uuid.UUID, 40)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Insert(ids[i], randomVector(rng, 6))
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadHNSW(&buf, 6, Euclidean, metric.Scalar)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("loaded len = %d, want %d", loaded.Len(), idx.Len())
	}

	query := randomVector(rng, 6)
	want, err := idx.Search(query, 5, 32, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Search(query, 5, 32, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != len(got) {
		t.Fatalf("result count mismatch: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ID != got[i].ID {
			t.Fatalf("result %d id mismatch: %v vs %v", i, want[i].ID, got[i].ID)
		}
	}
}

func TestHNSWDuplicateInsertRejected(t *testing.T) {
	idx := NewHNSW(3, Dot, metric.Scalar, defaultTestParams())
	id := uuid.New()
	if err := idx.Insert(id, []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(id, []float32{4, 5, 6}); err == nil {
		t.Fatal("expected error inserting duplicate id")
	}
}

func TestHNSWNeedsRebuildCrossesThreshold(t *testing.T) {
	idx := NewHNSW(3, Dot, metric.Scalar, HNSWParams{M: 8, EfConstruction: 32, EfSearch: 16, RebuildTombstoneRatio: 0.3})
	rng := rand.New(rand.NewSource(5))
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Insert(ids[i], randomVector(rng, 3))
	}
	if idx.NeedsRebuild() {
		t.Fatal("should not need rebuild before any deletes")
	}
	for i := 0; i < 4; i++ {
		idx.Remove(ids[i])
	}
	if !idx.NeedsRebuild() {
		t.Fatal("should need rebuild once tombstone ratio crosses threshold")
	}
}
