package piramid

import "github.com/google/uuid"

// Metadata is an unordered map from a short string key to a tagged value.
// A value is one of: nil, bool, int64, float64, string, or []any built from
// these (an ordered sequence). Lexical key order is not preserved on
// encode/decode round-trips.
type Metadata map[string]any

// MaxMetadataKeyLen bounds the length of a metadata key.
const MaxMetadataKeyLen = 128

// Document is the unit of storage: a vector, free-form text, and metadata,
// identified by a 128-bit UUID.
type Document struct {
	ID       uuid.UUID
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Metric is the distance/similarity function fixed at collection creation.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDot:
		return "dot"
	default:
		return "unknown"
	}
}

// ParseMetric parses the wire/config name of a metric.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "cosine":
		return MetricCosine, true
	case "euclidean":
		return MetricEuclidean, true
	case "dot":
		return MetricDot, true
	default:
		return 0, false
	}
}

// IndexPolicy selects which ANN variant a collection uses.
type IndexPolicy int

const (
	IndexAuto IndexPolicy = iota
	IndexFlat
	IndexHNSW
	IndexIVF
)

func (p IndexPolicy) String() string {
	switch p {
	case IndexFlat:
		return "flat"
	case IndexHNSW:
		return "hnsw"
	case IndexIVF:
		return "ivf"
	default:
		return "auto"
	}
}

// QuantizationPolicy selects the storage-boundary vector codec.
type QuantizationPolicy int

const (
	// QuantizeScalarInt8 stores vectors as per-vector scalar int8 codes.
	QuantizeScalarInt8 QuantizationPolicy = iota
	// QuantizeNone stores vectors as raw float32.
	QuantizeNone
)

// WALPolicy selects the fsync discipline for the write-ahead log.
type WALPolicy int

const (
	// WALHighDurability fsyncs after every record.
	WALHighDurability WALPolicy = iota
	// WALBatched fsyncs on checkpoint, or after N records / T milliseconds.
	WALBatched
	// WALOff relies on OS page-cache guarantees only; for tests/benchmarks.
	WALOff
)
