package piramid

import (
	"path/filepath"
	"sync"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	reg := NewRegistry(cfg, DefaultCollectionConfig())
	t.Cleanup(func() { _ = reg.Shutdown() })
	return reg
}

func TestRegistryCreateThenCollectionResolvesSameHandle(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("docs", CreateOptions{Metric: MetricCosine}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	col, err := reg.Collection("docs")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if col.Name() != "docs" {
		t.Fatalf("expected name docs, got %s", col.Name())
	}
}

func TestRegistryCreateDuplicateNameConflicts(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("docs", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("docs", CreateOptions{}); KindOf(err) != KindConflict {
		t.Fatalf("expected KindConflict on duplicate create, got %v (%v)", KindOf(err), err)
	}
}

func TestRegistryCollectionUnknownNameNotFound(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Collection("missing"); KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v (%v)", KindOf(err), err)
	}
}

func TestRegistryDropIsIdempotent(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("docs", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Drop("docs"); err != nil {
		t.Fatalf("first Drop: %v", err)
	}
	if err := reg.Drop("docs"); err != nil {
		t.Fatalf("dropping an already-dropped name should be a no-op, got: %v", err)
	}
	if _, err := reg.Collection("docs"); KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound after drop, got %v", err)
	}
}

func TestRegistryDropThenRecreate(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("docs", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Drop("docs"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := reg.Create("docs", CreateOptions{}); err != nil {
		t.Fatalf("recreate after drop should succeed: %v", err)
	}
}

func TestRegistryListReflectsOnlyLoaded(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("a", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("b", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	infos := reg.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 loaded collections, got %d", len(infos))
	}
}

func TestRegistryConcurrentResolveBlocksOnFirstOpen(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	seed := NewRegistry(cfg, DefaultCollectionConfig())
	if _, err := seed.Create("docs", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := seed.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// A fresh registry over the same directory has never loaded "docs", so
	// every concurrent Collection() call below takes the cold-open path.
	reg := NewRegistry(cfg, DefaultCollectionConfig())
	t.Cleanup(func() { _ = reg.Shutdown() })

	var wg sync.WaitGroup
	cols := make([]*Collection, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cols[i], errs[i] = reg.Collection("docs")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
		if cols[i] != cols[0] {
			t.Fatalf("goroutine %d resolved a different handle than goroutine 0", i)
		}
	}
}

func TestRegistryEndToEndInsertSearch(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("docs", CreateOptions{Metric: MetricCosine}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	col, err := reg.Collection("docs")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	id, err := col.Insert([]float32{1, 0, 0}, "hello", Metadata{"lang": "en"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := col.Search([]float32{1, 0, 0}, 1, nil, SearchOverrides{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected to find the inserted document first, got %+v", results)
	}

	st, err := reg.Stats("docs")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Count != 1 {
		t.Fatalf("expected count 1, got %d", st.Count)
	}
}

func TestRegistryValidatesCollectionName(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Create("", CreateOptions{}); KindOf(err) != KindValidation {
		t.Fatalf("expected KindValidation for empty name, got %v", err)
	}
	if _, err := reg.Create("bad name!", CreateOptions{}); KindOf(err) != KindValidation {
		t.Fatalf("expected KindValidation for invalid characters, got %v", err)
	}
}
