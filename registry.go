package piramid

import (
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/gbchill/piramid/pkg/collection"
	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/metric"
	"golang.org/x/sync/singleflight"
)

// numShards is the registry's lock fan-out: each shard guards its own
// name->Collection map, so a point lookup on one collection never
// contends with a lookup on another (§5 "map with internal sharded
// locking suitable for high-frequency point lookups").
const numShards = 16

type registryShard struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	loadGroup   singleflight.Group
}

// Registry is the process-wide, concurrency-safe map of named collections
// (§4.14). get_or_create-style resolution is idempotent: the first caller
// to touch a name drives the open/create, and opening or closing a
// collection never runs with a shard lock held (Create's existence check
// does stat the directory under the lock).
type Registry struct {
	cfg      Config
	collDefs CollectionConfig
	shards   [numShards]*registryShard
}

// NewRegistry builds an empty registry rooted at cfg.DataDir. collDefs
// supplies the per-collection tunables (HNSW/IVF params, filter overfetch,
// execution mode, ...) applied to every collection this registry opens or
// creates; pass DefaultCollectionConfig() for the teacher-style defaults.
func NewRegistry(cfg Config, collDefs CollectionConfig) *Registry {
	r := &Registry{cfg: cfg, collDefs: collDefs}
	for i := range r.shards {
		r.shards[i] = &registryShard{collections: make(map[string]*Collection)}
	}
	return r
}

func (r *Registry) shardFor(name string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return r.shards[h.Sum32()%numShards]
}

func (r *Registry) dirFor(name string) string {
	return filepath.Join(r.cfg.DataDir, name)
}

// validateName enforces §3's collection-name grammar: ASCII letters,
// digits, '_', '-', '.', bounded by MaxNameLen.
func validateName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = 128
	}
	if name == "" {
		return wrapErr("validate_name", KindValidation, errors.New("collection name must not be empty"))
	}
	if len(name) > maxLen {
		return wrapErr("validate_name", KindValidation, errors.New("collection name exceeds max length"))
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return wrapErr("validate_name", KindValidation, errors.New("collection name contains an invalid character"))
		}
	}
	return nil
}

// CreateOptions configures a new collection (§6 "create(name, metric, dim?,
// index_policy, quantization_policy, wal_policy)").
type CreateOptions struct {
	Metric       Metric
	Dim          int // 0 = fix on first insert
	IndexPolicy  IndexPolicy
	Quantization QuantizationPolicy
	WALPolicy    WALPolicy
}

// Descriptor is the result of create() and the per-collection shape
// returned by the admin surface: the fixed knobs pinned at create time.
type Descriptor struct {
	Name         string
	Dim          int
	Metric       Metric
	IndexPolicy  IndexPolicy
	Quantization QuantizationPolicy
	WALPolicy    WALPolicy
}

// CollectionInfo is one row of list() (§6 "list() -> sequence of (name,
// count, dim, metric, bytes_on_disk)").
type CollectionInfo struct {
	Name        string
	Count       int
	Dim         int
	Metric      Metric
	BytesOnDisk int64
}

func (r *Registry) collConfig(opts CreateOptions) collection.Config {
	cfg := r.collDefs.toInternal()
	cfg.Dim = opts.Dim
	cfg.Metric = metric.Metric(opts.Metric)
	cfg.IndexPolicy = index.Policy(opts.IndexPolicy)
	cfg.Quantization = collection.QuantizationPolicy(opts.Quantization)
	cfg.WALPolicy = collection.WALPolicy(opts.WALPolicy)
	if r.cfg.LockTimeout > 0 {
		cfg.LockTimeout = r.cfg.LockTimeout
	}
	return cfg
}

// Create opens a brand-new collection at name, failing with KindConflict
// if one already exists (loaded or merely present on disk).
func (r *Registry) Create(name string, opts CreateOptions) (Descriptor, error) {
	if err := validateName(name, r.collDefs.MaxNameLen); err != nil {
		return Descriptor{}, err
	}

	shard := r.shardFor(name)
	shard.mu.Lock()
	if _, exists := shard.collections[name]; exists {
		shard.mu.Unlock()
		return Descriptor{}, wrapErr("create", KindConflict, ErrCollectionExists)
	}
	if _, err := os.Stat(r.dirFor(name)); err == nil {
		shard.mu.Unlock()
		return Descriptor{}, wrapErr("create", KindConflict, ErrCollectionExists)
	}
	shard.mu.Unlock()

	col, err := r.openLocked(name, r.collConfig(opts))
	if err != nil {
		return Descriptor{}, wrapErr("create", KindInternal, err)
	}

	shard.mu.Lock()
	shard.collections[name] = col
	shard.mu.Unlock()

	d := col.inner.Stats()
	return Descriptor{
		Name: name, Dim: d.Dim, Metric: Metric(d.Metric),
		IndexPolicy: IndexPolicy(d.IndexPolicy), Quantization: opts.Quantization, WALPolicy: opts.WALPolicy,
	}, nil
}

func (r *Registry) openLocked(name string, cfg collection.Config) (*Collection, error) {
	inner, err := collection.Open(r.dirFor(name), name, cfg)
	if err != nil {
		return nil, err
	}
	return &Collection{name: name, inner: inner, lockTimeout: r.cfg.LockTimeout}, nil
}

// Collection resolves a collection by name, loading it from disk on first
// access if it is not already held open (§4.14). It fails with KindNotFound
// if no collection has ever been created under that name. Concurrent
// resolves for the same not-yet-loaded name collapse into one on-disk open
// via singleflight, matching "the first caller drives creation, concurrent
// callers block" (§5, §4.14).
func (r *Registry) Collection(name string) (*Collection, error) {
	shard := r.shardFor(name)

	shard.mu.RLock()
	if c, ok := shard.collections[name]; ok {
		shard.mu.RUnlock()
		return c, nil
	}
	shard.mu.RUnlock()

	v, err, _ := shard.loadGroup.Do(name, func() (any, error) {
		shard.mu.RLock()
		if c, ok := shard.collections[name]; ok {
			shard.mu.RUnlock()
			return c, nil
		}
		shard.mu.RUnlock()

		if _, statErr := os.Stat(r.dirFor(name)); statErr != nil {
			return nil, wrapErr("collection", KindNotFound, ErrNotFound)
		}
		col, openErr := r.openLocked(name, r.collConfig(CreateOptions{}))
		if openErr != nil {
			return nil, wrapErr("collection", KindInternal, openErr)
		}

		shard.mu.Lock()
		shard.collections[name] = col
		shard.mu.Unlock()
		return col, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Collection), nil
}

// Drop closes (if loaded) and removes a collection's on-disk directory.
// It is idempotent: dropping a name that was never created is a no-op
// (§6 "drop(name) -> unit (idempotent)").
func (r *Registry) Drop(name string) error {
	shard := r.shardFor(name)

	shard.mu.Lock()
	col, loaded := shard.collections[name]
	delete(shard.collections, name)
	shard.mu.Unlock()

	if loaded {
		_ = col.inner.Close()
	}

	if err := os.RemoveAll(r.dirFor(name)); err != nil {
		return wrapErr("drop", KindInternal, err)
	}
	return nil
}

// List reflects only currently loaded collections (§4.14 "List/enumerate
// reflects only loaded collections").
func (r *Registry) List() []CollectionInfo {
	var out []CollectionInfo
	for _, shard := range r.shards {
		shard.mu.RLock()
		for name, col := range shard.collections {
			st := col.inner.Stats()
			out = append(out, CollectionInfo{
				Name: name, Count: st.Count, Dim: st.Dim,
				Metric: Metric(st.Metric), BytesOnDisk: st.BytesOnDisk,
			})
		}
		shard.mu.RUnlock()
	}
	return out
}

// Checkpoint flushes a loaded collection's durable snapshot.
func (r *Registry) Checkpoint(name string) error {
	col, err := r.Collection(name)
	if err != nil {
		return err
	}
	return col.Checkpoint()
}

// Stats snapshots a loaded collection's counters (§6 "stats(name)").
func (r *Registry) Stats(name string) (Stats, error) {
	col, err := r.Collection(name)
	if err != nil {
		return Stats{}, err
	}
	return col.Stats(), nil
}

// Shutdown checkpoints and closes every currently loaded collection (§4.14
// "Shutdown iterates the map and checkpoints each under its own write
// lock"). The first close error is returned; shutdown continues through
// every collection regardless.
func (r *Registry) Shutdown() error {
	var firstErr error
	for _, shard := range r.shards {
		shard.mu.Lock()
		cols := make([]*Collection, 0, len(shard.collections))
		for _, c := range shard.collections {
			cols = append(cols, c)
		}
		shard.collections = make(map[string]*Collection)
		shard.mu.Unlock()

		for _, c := range cols {
			if err := c.inner.Close(); err != nil && firstErr == nil {
				firstErr = wrapErr("shutdown", KindInternal, err)
			}
		}
	}
	return firstErr
}
