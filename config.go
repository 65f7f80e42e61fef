package piramid

import (
	"time"

	"github.com/gbchill/piramid/pkg/collection"
	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/metric"
)

// HNSWParams configures the HNSW ANN variant (§4.9).
type HNSWParams struct {
	M              int `yaml:"m"`               // neighbors per node above level 0 (default 16)
	EfConstruction int `yaml:"efConstruction"`   // beam width at build time (default 200)
	EfSearch       int `yaml:"efSearch"`         // default beam width at search time (default 64)
	// RebuildTombstoneRatio triggers a rebuild once this fraction of
	// nodes are tombstoned (§9 "deletion in graph indexes").
	RebuildTombstoneRatio float64 `yaml:"rebuildTombstoneRatio"`
}

// DefaultHNSWParams returns the teacher-style default parameter set.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{
		M:                     16,
		EfConstruction:        200,
		EfSearch:              64,
		RebuildTombstoneRatio: 0.2,
	}
}

// IVFParams configures the IVF ANN variant (§4.10).
type IVFParams struct {
	NList     int `yaml:"nlist"`     // number of coarse centroids (default 100)
	NProbe    int `yaml:"nprobe"`    // lists visited per search (default 8)
	TrainSize int `yaml:"trainSize"` // vectors used to train k-means (default 10000)
}

// DefaultIVFParams returns the default IVF parameter set.
func DefaultIVFParams() IVFParams {
	return IVFParams{NList: 100, NProbe: 8, TrainSize: 10000}
}

// IndexSelectorParams configures the auto index-policy heuristic (§4.11).
type IndexSelectorParams struct {
	FlatThreshold int `yaml:"flatThreshold"` // below this size, use Flat (default 10000)
	IVFMinSize    int `yaml:"ivfMinSize"`    // at/above this size, prefer IVF over HNSW (default 200000)
}

// DefaultIndexSelectorParams returns the default selector thresholds.
func DefaultIndexSelectorParams() IndexSelectorParams {
	return IndexSelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
}

// ExecutionMode selects the distance-kernel code path (§4.1).
type ExecutionMode int

const (
	ExecAuto ExecutionMode = iota
	ExecSIMD
	ExecScalar
)

// CollectionConfig holds the knobs fixed (mostly) at collection-create time.
type CollectionConfig struct {
	Dim          int                `yaml:"dim"` // 0 = fix on first insert
	Metric       Metric              `yaml:"metric"`
	IndexPolicy  IndexPolicy         `yaml:"indexPolicy"`
	HNSW         HNSWParams          `yaml:"hnsw"`
	IVF          IVFParams           `yaml:"ivf"`
	Selector     IndexSelectorParams `yaml:"selector"`
	Quantization QuantizationPolicy  `yaml:"quantization"`
	WALPolicy    WALPolicy           `yaml:"walPolicy"`
	// WALBatchRecords/WALBatchInterval apply only under WALBatched.
	WALBatchRecords  int           `yaml:"walBatchRecords"`
	WALBatchInterval time.Duration `yaml:"walBatchInterval"`

	MaxNameLen   int `yaml:"maxNameLen"`
	MaxTextBytes int `yaml:"maxTextBytes"`

	// FilterOverfetch is the multiplier applied to k when a filter is
	// present (§4.12). Queries carry no overfetch override of their own.
	FilterOverfetch int `yaml:"filterOverfetch"`

	// NormalizeCosine normalizes query vectors before a cosine search.
	NormalizeCosine bool `yaml:"normalizeCosine"`

	Execution ExecutionMode `yaml:"execution"`

	// CheckpointInterval triggers a periodic checkpoint; zero disables
	// the periodic timer (checkpoints remain available on demand).
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`

	Logger Logger `yaml:"-"`
}

// DefaultCollectionConfig returns the default configuration for a new
// collection: cosine metric, auto index policy, scalar quantization,
// batched WAL fsync.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		Metric:             MetricCosine,
		IndexPolicy:        IndexAuto,
		HNSW:               DefaultHNSWParams(),
		IVF:                DefaultIVFParams(),
		Selector:           DefaultIndexSelectorParams(),
		Quantization:       QuantizeScalarInt8,
		WALPolicy:          WALBatched,
		WALBatchRecords:    200,
		WALBatchInterval:   100 * time.Millisecond,
		MaxNameLen:         128,
		MaxTextBytes:       1 << 20,
		FilterOverfetch:    10,
		NormalizeCosine:    true,
		Execution:          ExecAuto,
		CheckpointInterval: 5 * time.Minute,
		Logger:             NopLogger(),
	}
}

// Config holds process-wide knobs for the Registry (§6 "environment knobs",
// collaborator-owned fields like bind address/credentials are intentionally
// absent — those belong to the HTTP/CLI/embedding-provider collaborators).
type Config struct {
	DataDir             string        `yaml:"dataDir"`
	DefaultIndexPolicy  IndexPolicy   `yaml:"defaultIndexPolicy"`
	DefaultQuantization QuantizationPolicy `yaml:"defaultQuantization"`
	DefaultWALPolicy    WALPolicy     `yaml:"defaultWalPolicy"`
	LowSpaceFloorBytes  uint64        `yaml:"lowSpaceFloorBytes"`
	LowSpaceReadOnly    bool          `yaml:"lowSpaceReadOnly"`
	CacheByteCap        uint64        `yaml:"cacheByteCap"`
	LockTimeout         time.Duration `yaml:"lockTimeout"`
	Logger              Logger        `yaml:"-"`
}

// DefaultConfig returns sensible process-wide defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:             "./data",
		DefaultIndexPolicy:  IndexAuto,
		DefaultQuantization: QuantizeScalarInt8,
		DefaultWALPolicy:    WALBatched,
		LowSpaceFloorBytes:  64 << 20,
		LowSpaceReadOnly:    true,
		CacheByteCap:        256 << 20,
		LockTimeout:         5 * time.Second,
		Logger:              NopLogger(),
	}
}

// toInternal translates the root-level CollectionConfig into pkg/collection's
// mirrored Config, which stays free of a dependency on this package to
// avoid an import cycle (this package imports pkg/collection).
func (c CollectionConfig) toInternal() collection.Config {
	return collection.Config{
		Dim:         c.Dim,
		Metric:      metric.Metric(c.Metric),
		IndexPolicy: index.Policy(c.IndexPolicy),
		HNSW: index.HNSWParams{
			M:                     c.HNSW.M,
			EfConstruction:        c.HNSW.EfConstruction,
			EfSearch:              c.HNSW.EfSearch,
			RebuildTombstoneRatio: c.HNSW.RebuildTombstoneRatio,
		},
		IVF: index.IVFParams{
			NList:     c.IVF.NList,
			NProbe:    c.IVF.NProbe,
			TrainSize: c.IVF.TrainSize,
		},
		Selector: index.SelectorParams{
			FlatThreshold: c.Selector.FlatThreshold,
			IVFMinSize:    c.Selector.IVFMinSize,
		},
		Quantization:       collection.QuantizationPolicy(c.Quantization),
		WALPolicy:          collection.WALPolicy(c.WALPolicy),
		WALBatchRecords:    c.WALBatchRecords,
		WALBatchInterval:   c.WALBatchInterval,
		MaxTextBytes:       c.MaxTextBytes,
		FilterOverfetch:    c.FilterOverfetch,
		NormalizeCosine:    c.NormalizeCosine,
		Execution:          metric.Mode(c.Execution),
		CheckpointInterval: c.CheckpointInterval,
		Logger:             c.Logger,
	}
}
