package index

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/gbchill/piramid/internal/encoding"
	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
)

// Flat is the brute-force exact index (§4.8): scans every live id, applies
// the visitor if present, scores with the metric, and keeps a bounded
// max-heap of size k. Grounded on the teacher's FlatIndex
// (pkg/index/flat.go), generalized from string ids and a raw distance func
// to uuid.UUID ids and a metric.Kernel, and with the heap keeping the
// *lowest*-scoring candidate on top so a new, better candidate evicts it
// (this engine's scores are similarities: higher is better).
type Flat struct {
	dim     int
	kernel  metric.Kernel
	vectors map[uuid.UUID][]float32
}

// NewFlat builds a fresh, empty flat index (§4.7 "build").
func NewFlat(dim int, m Metric, mode metric.Mode) *Flat {
	return &Flat{
		dim:     dim,
		kernel:  metric.Kernel{Metric: toKernelMetric(m), Mode: mode},
		vectors: make(map[uuid.UUID][]float32),
	}
}

func toKernelMetric(m Metric) metric.Metric {
	switch m {
	case Euclidean:
		return metric.Euclidean
	case Dot:
		return metric.Dot
	default:
		return metric.Cosine
	}
}

func (f *Flat) Insert(id uuid.UUID, vector []float32) error {
	if len(vector) != f.dim {
		return fmt.Errorf("index: dimension mismatch: expected %d, got %d", f.dim, len(vector))
	}
	if _, exists := f.vectors[id]; exists {
		return fmt.Errorf("index: id %s already present", id)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	f.vectors[id] = v
	return nil
}

func (f *Flat) Remove(id uuid.UUID) bool {
	if _, ok := f.vectors[id]; !ok {
		return false
	}
	delete(f.vectors, id)
	return true
}

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) MemoryUsage() int64 {
	var n int64
	for _, v := range f.vectors {
		n += int64(len(v)*4) + 16
	}
	return n
}

// flatHeapItem pairs a candidate with its score; the heap orders by
// ascending score so Pop always removes the current worst of the top-k.
type flatHeapItem struct {
	id    uuid.UUID
	score float32
}

type flatMinHeap []flatHeapItem

func (h flatMinHeap) Len() int            { return len(h) }
func (h flatMinHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h flatMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *flatMinHeap) Push(x interface{}) { *h = append(*h, x.(flatHeapItem)) }
func (h *flatMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (f *Flat) Search(query []float32, k int, _ SearchOverride, visitor Visitor) ([]Candidate, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: query dimension mismatch: expected %d, got %d", f.dim, len(query))
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}

	h := &flatMinHeap{}
	heap.Init(h)

	for id, v := range f.vectors {
		if visitor != nil && !visitor(id) {
			continue
		}
		score := f.kernel.Similarity(query, v)
		if h.Len() < k {
			heap.Push(h, flatHeapItem{id: id, score: score})
		} else if score > (*h)[0].score {
			heap.Pop(h)
			heap.Push(h, flatHeapItem{id: id, score: score})
		}
	}

	out := make([]Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(h).(flatHeapItem)
		out[i] = Candidate{ID: item.id, Score: item.score}
	}
	return out, nil
}

// Save serializes the flat index as a CRC-framed dump of (id, vector)
// pairs in map-iteration order; order has no semantic meaning for this
// variant since search always scans every entry.
func (f *Flat) Save(w io.Writer) error {
	body := make([]byte, 0, 8+len(f.vectors)*(16+f.dim*4))
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(f.vectors)))
	body = append(body, countBuf...)

	for id, v := range f.vectors {
		body = append(body, id[:]...)
		for _, x := range v {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
			body = append(body, b[:]...)
		}
	}

	crc := encoding.ChecksumCastagnoli(body)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	body = append(body, crcBuf[:]...)

	_, err := w.Write(body)
	return err
}

// LoadFlat deserializes a flat index written by Save (§4.7 "load(reader,
// dim, metric)"). Record sizes are computed from dim, so a blob saved under
// another dim fails the length or CRC check; the blob does not record the
// metric, so m is taken as given and not checked.
func LoadFlat(r io.Reader, dim int, m Metric, mode metric.Mode) (*Flat, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: flat index blob too short", encoding.ErrCorrupt)
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	recordSize := 16 + dim*4
	need := 4 + count*recordSize + 4
	if len(data) < need {
		return nil, fmt.Errorf("%w: flat index blob truncated", encoding.ErrCorrupt)
	}
	gotCRC := encoding.ChecksumCastagnoli(data[:need-4])
	wantCRC := binary.LittleEndian.Uint32(data[need-4:])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: flat index crc mismatch", encoding.ErrCorrupt)
	}

	idx := NewFlat(dim, m, mode)
	off := 4
	for i := 0; i < count; i++ {
		var id uuid.UUID
		copy(id[:], data[off:off+16])
		off += 16
		v := make([]float32, dim)
		for j := 0; j < dim; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		idx.vectors[id] = v
	}
	return idx, nil
}
