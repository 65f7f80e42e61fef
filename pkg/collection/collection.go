// Package collection implements the collection lifecycle (§4.13): the
// state machine, the open/replay/checkpoint sequences that wire together
// pkg/storage, pkg/index, and pkg/search, and the document CRUD and search
// operations listed in §6's external interface.
package collection

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gbchill/piramid/internal/encoding"
	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/metric"
	"github.com/gbchill/piramid/pkg/quantization"
	"github.com/gbchill/piramid/pkg/search"
	"github.com/gbchill/piramid/pkg/storage"
)

// State is one node of the collection lifecycle state machine (§4.13).
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateReadOnly
	StateClosed
	StateCorrupt
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateReadOnly:
		return "read_only"
	case StateClosed:
		return "closed"
	case StateCorrupt:
		return "corrupt"
	default:
		return "uninitialized"
	}
}

const (
	dataFileName    = "data.bin"
	walFileName     = "wal.log"
	offsetsFileName = "offsets.bin"
	indexFileName   = "index.bin"
)

// Collection is one open, loaded collection: a data file, offset map, WAL,
// and ANN index, guarded by a single reader-writer lock per §5 ("a single
// collection serializes writers and permits concurrent readers").
type Collection struct {
	mu    sync.RWMutex
	name  string
	dir   string
	cfg   Config
	state State

	data    *storage.DataFile
	offsets *storage.OffsetMap
	wal     *storage.WAL
	idx     index.Index
	policy  index.Policy

	kernel metric.Kernel
	engine *search.Engine

	lastCheckpoint time.Time
	lastWALSync    time.Time

	stopPeriodicCheckpoint chan struct{}
	periodicCheckpointDone chan struct{}
}

// Open maps (or creates) a collection's files at dir/name, replays any
// pending WAL, and returns it in the Loaded state (or Corrupt if the
// descriptor or checkpoint could not be read, per §4.13's open sequence).
func Open(dir, name string, cfg Config) (*Collection, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("collection: create directory: %w", err)
	}

	dataPath := filepath.Join(dir, dataFileName)
	data, created, err := storage.OpenDataFile(dataPath, uint16(cfg.Dim), metricByte(cfg.Metric), policyByte(cfg.IndexPolicy))
	if err != nil {
		return nil, fmt.Errorf("collection %q: open data file: %w", name, err)
	}

	desc := data.Descriptor()
	dim := int(desc.Dim)
	resolvedMetric := byteMetric(desc.Metric)
	resolvedPolicy := bytePolicy(desc.IndexPolicy)

	c := &Collection{
		name:   name,
		dir:    dir,
		cfg:    cfg,
		data:   data,
		kernel: metric.Kernel{Metric: resolvedMetric, Mode: cfg.Execution},
		policy: resolvedPolicy,
	}

	if created {
		c.offsets = storage.NewOffsetMap()
	} else {
		c.offsets, err = loadOffsetMapSidecar(filepath.Join(dir, offsetsFileName))
		if err != nil {
			data.Close()
			c.state = StateCorrupt
			return c, fmt.Errorf("collection %q: load offset map: %w", name, err)
		}
	}

	c.idx, err = loadOrBuildIndex(filepath.Join(dir, indexFileName), dim, resolvedPolicy, resolvedMetric, cfg)
	if err != nil {
		data.Close()
		c.state = StateCorrupt
		return c, fmt.Errorf("collection %q: load index: %w", name, err)
	}

	wal, err := storage.OpenWAL(filepath.Join(dir, walFileName))
	if err != nil {
		data.Close()
		c.state = StateCorrupt
		return c, fmt.Errorf("collection %q: open wal: %w", name, err)
	}
	c.wal = wal

	if replayErr := c.replayWALLocked(); replayErr != nil {
		cfg.logger().Warn("wal replay hit a torn trailing record, continuing with the clean prefix", "collection", name, "err", replayErr)
	}

	if dim > 0 {
		c.engine = search.NewEngine(c.kernel, dim, cfg.NormalizeCosine, cfg.FilterOverfetch, cfg.Logger)
	}

	c.state = StateLoaded
	c.lastCheckpoint = time.Now()
	c.lastWALSync = c.lastCheckpoint

	if cfg.CheckpointInterval > 0 {
		c.stopPeriodicCheckpoint = make(chan struct{})
		c.periodicCheckpointDone = make(chan struct{})
		go c.runPeriodicCheckpoint(cfg.CheckpointInterval)
	}
	return c, nil
}

// runPeriodicCheckpoint flushes a durable snapshot on a fixed interval
// (§2 "periodic ... checkpoints") so a crash never loses more than one
// interval's worth of WAL-only writes. Stopped by Close via
// stopPeriodicCheckpoint; periodicCheckpointDone lets Close block until the
// last in-flight checkpoint finishes rather than racing it.
func (c *Collection) runPeriodicCheckpoint(interval time.Duration) {
	defer close(c.periodicCheckpointDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPeriodicCheckpoint:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateLoaded {
				if err := c.checkpointLocked(); err != nil {
					c.cfg.logger().Warn("periodic checkpoint failed", "collection", c.name, "err", err)
				}
			}
			c.mu.Unlock()
		}
	}
}

// lockTimeout returns the configured lock-acquire timeout, defaulting to
// 5s (§5 "lock acquisition uses a bounded timeout (default 5 s)").
func (c *Collection) lockTimeout() time.Duration {
	if c.cfg.LockTimeout > 0 {
		return c.cfg.LockTimeout
	}
	return 5 * time.Second
}

// lockWrite acquires c.mu for writing within the configured timeout,
// returning ErrLockTimeout instead of blocking indefinitely. Callers that
// succeed must release via c.mu.Unlock().
func (c *Collection) lockWrite() error {
	if c.mu.TryLock() {
		return nil
	}
	return spinLock(c.lockTimeout(), c.mu.TryLock)
}

// lockRead acquires c.mu for reading within the configured timeout.
// Callers that succeed must release via c.mu.RUnlock().
func (c *Collection) lockRead() error {
	if c.mu.TryRLock() {
		return nil
	}
	return spinLock(c.lockTimeout(), c.mu.TryRLock)
}

// spinLock retries try at a short interval until it succeeds or deadline
// expires. A spin-retry loop is the right trade-off here: sync.RWMutex
// exposes no channel or context-aware Lock, and collection operations hold
// the lock only briefly (§5), so contention resolves within a few retries.
func spinLock(timeout time.Duration, try func() bool) error {
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond
	for time.Now().Before(deadline) {
		if try() {
			return nil
		}
		time.Sleep(backoff)
		if backoff < 20*time.Millisecond {
			backoff *= 2
		}
	}
	return ErrLockTimeout
}

// writableLocked reports whether a write operation may proceed given the
// current lifecycle state (§4.13, §7 KindResource/Err*Closed semantics).
// Callers must hold c.mu for writing.
func (c *Collection) writableLocked() error {
	switch c.state {
	case StateLoaded:
		return nil
	case StateReadOnly:
		return ErrReadOnly
	default:
		return ErrClosed
	}
}

// readableLocked reports whether a read operation may proceed. Callers
// must hold c.mu for reading.
func (c *Collection) readableLocked() error {
	switch c.state {
	case StateLoaded, StateReadOnly:
		return nil
	default:
		return ErrClosed
	}
}

// fixDimLocked fixes the collection's dimensionality on first successful
// insert (§3 invariant 3): it runs the index selector once (§4.11), writes
// dim/policy into the data file descriptor, and builds the now-concrete
// index and search engine. Callers must hold c.mu for writing and must
// only call this when c.data.Descriptor().Dim == 0.
func (c *Collection) fixDimLocked(dim int) {
	resolvedPolicy := index.Select(c.cfg.IndexPolicy, c.offsets.Len(), dim, c.cfg.Selector)
	c.data.FixSchema(uint16(dim), uint8(resolvedPolicy))
	c.policy = resolvedPolicy
	idxMetric := toIndexMetric(c.kernel.Metric)
	c.idx = newIndex(resolvedPolicy, dim, idxMetric, c.cfg)
	c.engine = search.NewEngine(c.kernel, dim, c.cfg.NormalizeCosine, c.cfg.FilterOverfetch, c.cfg.Logger)
}

// maybeRebuildIndexLocked compacts the index's tombstones when its variant
// supports it and the tombstoned fraction has crossed the configured ratio
// (§9 "Rebuild triggers when tombstoned fraction exceeds a configured
// ratio"). Flat and IVF delete in place and don't implement Rebuildable, so
// this is a no-op for them. Checked at checkpoint time so a rebuild never
// races an in-flight write and its cost is paid alongside the I/O a
// checkpoint already does. Callers must hold c.mu for writing.
func (c *Collection) maybeRebuildIndexLocked() {
	r, ok := c.idx.(index.Rebuildable)
	if !ok || !r.NeedsRebuild() {
		return
	}
	c.idx = r.Rebuild()
}

// maybeSyncWALLocked applies the collection's fsync policy (§4.6) after a
// WAL append. Callers must hold c.mu for writing.
func (c *Collection) maybeSyncWALLocked() error {
	switch c.cfg.WALPolicy {
	case WALHighDurability:
		return c.syncWALLocked()
	case WALOff:
		return nil
	default: // WALBatched
		records := c.cfg.WALBatchRecords
		if records <= 0 {
			records = 200
		}
		interval := c.cfg.WALBatchInterval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		if c.wal.PendingSinceSync() >= records || time.Since(c.lastWALSync) >= interval {
			return c.syncWALLocked()
		}
		return nil
	}
}

func (c *Collection) syncWALLocked() error {
	if err := c.wal.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	c.lastWALSync = time.Now()
	return nil
}

// replayWALLocked applies every record the WAL currently holds (which, by
// construction, is everything since the last successful checkpoint: a
// checkpoint's final step truncates the WAL back to empty, so its file
// never retains pre-checkpoint records across a clean close). Re-applying
// an Insert/Update whose effects already landed (a checkpoint succeeded
// but the WAL truncation step was itself interrupted) is idempotent: the
// offset map's Put and the index's Remove-then-Insert both tolerate being
// run twice with the same inputs.
func (c *Collection) replayWALLocked() error {
	records, replayErr := c.wal.Replay()
	for _, rec := range records {
		switch rec.Type {
		case storage.WALInsert, storage.WALUpdate:
			offset, err := c.data.Append(rec.Doc)
			if err != nil {
				return fmt.Errorf("replay: append record: %w", err)
			}
			c.offsets.Put(rec.ID, storage.Entry{Offset: offset, Length: uint32(len(rec.Doc))})
			decoded, err := encoding.DecodeRecord(rec.Doc)
			if err != nil {
				continue // corrupt record: drop from the index, keep going (§7 corruption handling)
			}
			vec := decodedVector(decoded)
			c.idx.Remove(rec.ID)
			_ = c.idx.Insert(rec.ID, vec)
		case storage.WALDelete:
			c.offsets.Delete(rec.ID)
			c.idx.Remove(rec.ID)
		case storage.WALCheckpoint:
			// boundary marker only; offset map and index already
			// reflect everything up to this point via the sidecars.
		}
	}
	return replayErr
}

func decodedVector(r encoding.Record) []float32 {
	if r.Quantized {
		return quantization.Dequantize(quantization.Quantized{Scale: r.Scale, Codes: r.Quantized8})
	}
	return r.VectorF32
}

func loadOffsetMapSidecar(path string) (*storage.OffsetMap, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return storage.NewOffsetMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offset map sidecar: %w", err)
	}
	return storage.LoadOffsetMap(b)
}

func loadOrBuildIndex(path string, dim int, policy index.Policy, m metric.Metric, cfg Config) (index.Index, error) {
	idxMetric := toIndexMetric(m)
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		switch policy {
		case index.PolicyFlat:
			return index.LoadFlat(f, dim, idxMetric, cfg.Execution)
		case index.PolicyHNSW:
			return index.LoadHNSW(f, dim, idxMetric, cfg.Execution)
		case index.PolicyIVF:
			return index.LoadIVF(f, dim, idxMetric, cfg.Execution)
		default:
			return index.NewFlat(dim, idxMetric, cfg.Execution), nil
		}
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open index sidecar: %w", err)
	}
	return newIndex(policy, dim, idxMetric, cfg), nil
}

func newIndex(policy index.Policy, dim int, m index.Metric, cfg Config) index.Index {
	switch policy {
	case index.PolicyHNSW:
		return index.NewHNSW(dim, m, cfg.Execution, cfg.HNSW)
	case index.PolicyIVF:
		return index.NewIVF(dim, m, cfg.Execution, cfg.IVF)
	default:
		return index.NewFlat(dim, m, cfg.Execution)
	}
}

func toIndexMetric(m metric.Metric) index.Metric {
	switch m {
	case metric.Euclidean:
		return index.Euclidean
	case metric.Dot:
		return index.Dot
	default:
		return index.Cosine
	}
}

func metricByte(m metric.Metric) uint8 { return uint8(m) }
func byteMetric(b uint8) metric.Metric { return metric.Metric(b) }
func policyByte(p index.Policy) uint8  { return uint8(p) }
func bytePolicy(b uint8) index.Policy  { return index.Policy(b) }

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// State reports the current lifecycle state.
func (c *Collection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Dim reports the collection's fixed vector dimensionality, or 0 if not
// yet fixed (no document inserted).
func (c *Collection) Dim() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.data.Descriptor().Dim)
}

// SetReadOnly transitions the collection to ReadOnly (§5 "process-wide
// disk-space monitor can transition any collection to ReadOnly").
func (c *Collection) SetReadOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoaded {
		c.state = StateReadOnly
	}
}

// Checkpoint runs the checkpoint sequence (§4.13): flush the data file,
// serialize the offset map and ANN index to temp files, atomically rename
// both, append+fsync a Checkpoint WAL record, then truncate the WAL.
func (c *Collection) Checkpoint() error {
	if err := c.lockWrite(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	return c.checkpointLocked()
}

func (c *Collection) checkpointLocked() error {
	if c.state == StateClosed || c.state == StateCorrupt {
		return ErrClosed
	}
	if err := c.data.Sync(); err != nil {
		return fmt.Errorf("checkpoint: sync data file: %w", err)
	}

	c.maybeRebuildIndexLocked()

	offsetsBlob := c.offsets.Serialize()
	if err := writeAtomic(filepath.Join(c.dir, offsetsFileName), offsetsBlob); err != nil {
		return fmt.Errorf("checkpoint: write offset map sidecar: %w", err)
	}

	var idxBuf bytesBuffer
	if err := c.idx.Save(&idxBuf); err != nil {
		return fmt.Errorf("checkpoint: serialize index: %w", err)
	}
	if err := writeAtomic(filepath.Join(c.dir, indexFileName), idxBuf.b); err != nil {
		return fmt.Errorf("checkpoint: write index sidecar: %w", err)
	}

	rec := storage.WALRecord{
		Type:            storage.WALCheckpoint,
		HighWaterOffset: c.data.NextOffset(),
		OffsetMapDigest: encoding.ChecksumCastagnoli(offsetsBlob),
		IndexDigest:     encoding.ChecksumCastagnoli(idxBuf.b),
	}
	if err := c.wal.Append(rec); err != nil {
		return fmt.Errorf("checkpoint: append checkpoint record: %w", err)
	}
	if err := c.wal.Sync(); err != nil {
		return fmt.Errorf("checkpoint: fsync wal: %w", err)
	}
	if err := c.wal.Reset(); err != nil {
		return fmt.Errorf("checkpoint: truncate wal: %w", err)
	}

	c.lastCheckpoint = time.Now()
	return nil
}

// Close checkpoints the collection and releases its file handles.
func (c *Collection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateLoaded || c.state == StateReadOnly {
		_ = c.checkpointLocked()
	}
	c.state = StateClosed
	var firstErr error
	if err := c.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.data.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.mu.Unlock()

	if c.stopPeriodicCheckpoint != nil {
		close(c.stopPeriodicCheckpoint)
		<-c.periodicCheckpointDone
	}
	return firstErr
}

// bytesBuffer is a minimal io.Writer sink; avoids pulling in bytes.Buffer
// just for Save()'s sake when this file already has enough imports.
type bytesBuffer struct{ b []byte }

func (w *bytesBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isNaNOrInf(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return true
		}
	}
	return false
}
