package collection

import (
	"time"

	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/metric"
)

// QuantizationPolicy selects the storage-boundary vector codec (§4.2).
type QuantizationPolicy int

const (
	QuantizeScalarInt8 QuantizationPolicy = iota
	QuantizeNone
)

// WALPolicy selects the WAL's fsync discipline (§4.6).
type WALPolicy int

const (
	WALHighDurability WALPolicy = iota
	WALBatched
	WALOff
)

// Logger is a structural mirror of the root package's Logger interface
// (and of pkg/search.Logger), so a piramid.Logger value can be passed in
// directly without this package importing the root package, which would
// create an import cycle (the root facade imports pkg/collection).
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config holds the knobs fixed (mostly) at collection-create time (§4.13).
// It mirrors most of the root package's CollectionConfig, which the facade
// translates into it via toInternal; MaxNameLen stays in the root package,
// and LockTimeout is filled in by the registry rather than translated.
type Config struct {
	Dim          int // 0 = fix on first insert
	Metric       metric.Metric
	IndexPolicy  index.Policy
	HNSW         index.HNSWParams
	IVF          index.IVFParams
	Selector     index.SelectorParams
	Quantization QuantizationPolicy
	WALPolicy    WALPolicy

	WALBatchRecords  int
	WALBatchInterval time.Duration

	MaxTextBytes int

	// FilterOverfetch is the multiplier applied to k when a query
	// filter is present (§4.12, default 10).
	FilterOverfetch int

	NormalizeCosine bool
	Execution       metric.Mode

	// CheckpointInterval runs a background checkpoint on this interval;
	// zero disables the periodic timer (checkpoints remain available on
	// demand via Checkpoint).
	CheckpointInterval time.Duration

	// LockTimeout bounds how long an operation waits to acquire this
	// collection's reader-writer lock before failing with ErrLockTimeout
	// (§5 "lock acquisition uses a bounded timeout (default 5s)").
	LockTimeout time.Duration

	Logger Logger
}

// DefaultConfig returns the teacher-style default parameter set.
func DefaultConfig() Config {
	return Config{
		Metric:             metric.Cosine,
		IndexPolicy:        index.PolicyAuto,
		HNSW:               index.HNSWParams{M: 16, EfConstruction: 200, EfSearch: 64, RebuildTombstoneRatio: 0.2},
		IVF:                index.IVFParams{NList: 100, NProbe: 8, TrainSize: 10000},
		Selector:           index.SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000},
		Quantization:       QuantizeScalarInt8,
		WALPolicy:          WALBatched,
		WALBatchRecords:    200,
		WALBatchInterval:   100 * time.Millisecond,
		MaxTextBytes:       1 << 20,
		FilterOverfetch:    10,
		NormalizeCosine:    true,
		Execution:          metric.Auto,
		CheckpointInterval: 5 * time.Minute,
		LockTimeout:        5 * time.Second,
		Logger:             nopLogger{},
	}
}

func (c Config) logger() Logger {
	if c.Logger == nil {
		return nopLogger{}
	}
	return c.Logger
}
