package index

import (
	"container/heap"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/gbchill/piramid/pkg/metric"
	"github.com/google/uuid"
)

// IVFParams mirrors the root package's IVFParams without importing it.
type IVFParams struct {
	NList     int
	NProbe    int
	TrainSize int
}

type pendingVector struct {
	id     uuid.UUID
	vector []float32
}

// IVF implements the inverted-file index described in §4.10: a k-means
// coarse quantizer (k-means++ init) over `nlist` centroids, with inverted
// lists holding each centroid's members. Grounded on the teacher's
// IVFIndex (pkg/index/ivf.go: Train/kMeansIVF/findNearestCentroid/Search
// shape), generalized from string ids and parallel index-position slices
// (which required awkward O(n) reindexing on delete, see IVFIndex.Delete)
// to uuid.UUID ids keyed directly into per-centroid id lists, and from a
// fixed euclidean-only distance to the collection's configured
// metric.Kernel.
type IVF struct {
	dim    int
	kernel metric.Kernel

	nlist     int
	nprobe    int
	trainSize int

	trained   bool
	centroids [][]float32
	lists     map[int][]uuid.UUID
	assign    map[uuid.UUID]int
	vectors   map[uuid.UUID][]float32
	pending   []pendingVector

	rng *rand.Rand
}

// NewIVF builds a fresh, untrained IVF index (§4.7 "build"). It trains
// itself automatically once TrainSize vectors have been inserted; Retrain
// re-clusters on demand (§4.10).
func NewIVF(dim int, m Metric, mode metric.Mode, p IVFParams) *IVF {
	return &IVF{
		dim:       dim,
		kernel:    metric.Kernel{Metric: toKernelMetric(m), Mode: mode},
		nlist:     p.NList,
		nprobe:    p.NProbe,
		trainSize: p.TrainSize,
		lists:     make(map[int][]uuid.UUID),
		assign:    make(map[uuid.UUID]int),
		vectors:   make(map[uuid.UUID][]float32),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *IVF) Insert(id uuid.UUID, vector []float32) error {
	if len(vector) != f.dim {
		return fmt.Errorf("index: dimension mismatch: expected %d, got %d", f.dim, len(vector))
	}
	if _, exists := f.vectors[id]; exists {
		return fmt.Errorf("index: id %s already present", id)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	f.vectors[id] = v

	if !f.trained {
		f.pending = append(f.pending, pendingVector{id: id, vector: v})
		if f.trainSize > 0 && len(f.pending) >= f.trainSize {
			f.train(f.pending)
		}
		return nil
	}

	c := f.nearestCentroid(v)
	f.assign[id] = c
	f.lists[c] = append(f.lists[c], id)
	return nil
}

// train runs k-means over vecs and assigns every vector in vecs to its
// nearest resulting centroid. Called automatically once TrainSize vectors
// have accumulated; callers may also invoke Retrain to re-cluster on
// demand (§4.10 "re-trainable on demand").
func (f *IVF) train(vecs []pendingVector) {
	k := f.nlist
	if k > len(vecs) {
		k = len(vecs)
	}
	if k < 1 {
		k = 1
	}

	points := make([][]float32, len(vecs))
	for i, pv := range vecs {
		points[i] = pv.vector
	}
	f.centroids = kMeansPlusPlus(points, k, 20, f.rng)
	f.trained = true
	f.lists = make(map[int][]uuid.UUID)

	for _, pv := range vecs {
		c := f.nearestCentroid(pv.vector)
		f.assign[pv.id] = c
		f.lists[c] = append(f.lists[c], pv.id)
	}
	f.pending = nil
}

// Retrain discards the current clustering and retrains from every vector
// currently held by the index.
func (f *IVF) Retrain() {
	all := make([]pendingVector, 0, len(f.vectors))
	for id, v := range f.vectors {
		all = append(all, pendingVector{id: id, vector: v})
	}
	f.trained = false
	f.assign = make(map[uuid.UUID]int)
	f.train(all)
}

func (f *IVF) nearestCentroid(v []float32) int {
	best := 0
	bestDist := metric.RawEuclidean(v, f.centroids[0], f.kernel.Mode)
	for i := 1; i < len(f.centroids); i++ {
		d := metric.RawEuclidean(v, f.centroids[i], f.kernel.Mode)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func (f *IVF) Remove(id uuid.UUID) bool {
	if _, ok := f.vectors[id]; !ok {
		return false
	}
	delete(f.vectors, id)

	if !f.trained {
		for i, pv := range f.pending {
			if pv.id == id {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
		return true
	}

	c, ok := f.assign[id]
	if !ok {
		return true
	}
	delete(f.assign, id)
	list := f.lists[c]
	for i, existing := range list {
		if existing == id {
			f.lists[c] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

func (f *IVF) Len() int { return len(f.vectors) }

func (f *IVF) MemoryUsage() int64 {
	var n int64
	for _, v := range f.vectors {
		n += int64(len(v)*4) + 16
	}
	for _, c := range f.centroids {
		n += int64(len(c) * 4)
	}
	return n
}

// Search visits the nprobe centroids nearest the query and scores every
// member of their inverted lists (§4.10). Before training, it falls back
// to a brute-force scan over every inserted vector: a small, untrained
// collection would otherwise return nothing, and IVF is only selected for
// collections large enough that this window is short-lived (§4.11).
func (f *IVF) Search(query []float32, k int, override SearchOverride, visitor Visitor) ([]Candidate, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: query dimension mismatch: expected %d, got %d", f.dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	if !f.trained {
		return f.bruteForce(query, k, visitor)
	}

	nprobe := f.nprobe
	if override > 0 {
		nprobe = int(override)
	}
	if nprobe > len(f.centroids) {
		nprobe = len(f.centroids)
	}

	type centroidDist struct {
		idx  int
		dist float32
	}
	dists := make([]centroidDist, len(f.centroids))
	for i, c := range f.centroids {
		dists[i] = centroidDist{idx: i, dist: metric.RawEuclidean(query, c, f.kernel.Mode)}
	}
	for i := 0; i < len(dists); i++ {
		for j := i + 1; j < len(dists); j++ {
			if dists[j].dist < dists[i].dist {
				dists[i], dists[j] = dists[j], dists[i]
			}
		}
	}

	h := &flatMinHeap{}
	heap.Init(h)
	for i := 0; i < nprobe; i++ {
		for _, id := range f.lists[dists[i].idx] {
			if visitor != nil && !visitor(id) {
				continue
			}
			score := f.kernel.Similarity(query, f.vectors[id])
			if h.Len() < k {
				heap.Push(h, flatHeapItem{id: id, score: score})
			} else if score > (*h)[0].score {
				heap.Pop(h)
				heap.Push(h, flatHeapItem{id: id, score: score})
			}
		}
	}
	return drainMinHeap(h), nil
}

func (f *IVF) bruteForce(query []float32, k int, visitor Visitor) ([]Candidate, error) {
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
	return drainMinHeap(h), nil
}

func drainMinHeap(h *flatMinHeap) []Candidate {
	out := make([]Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(h).(flatHeapItem)
		out[i] = Candidate{ID: item.id, Score: item.score}
	}
	return out
}

// kMeansPlusPlus clusters points into k centroids: k-means++ seeding
// (probability proportional to squared distance to the nearest existing
// centroid) followed by Lloyd's-algorithm refinement, grounded on the
// teacher's kMeansIVF.
func kMeansPlusPlus(points [][]float32, k, maxIters int, rng *rand.Rand) [][]float32 {
	dim := len(points[0])
	centroids := make([][]float32, k)
	centroids[0] = append([]float32(nil), points[rng.Intn(len(points))]...)

	for i := 1; i < k; i++ {
		distances := make([]float32, len(points))
		var total float32
		for j, p := range points {
			best := metric.RawEuclidean(p, centroids[0], metric.Scalar)
			for c := 1; c < i; c++ {
				d := metric.RawEuclidean(p, centroids[c], metric.Scalar)
				if d < best {
					best = d
				}
			}
			distances[j] = best * best
			total += distances[j]
		}
		r := rng.Float32() * total
		var cum float32
		chosen := len(points) - 1
		for j, d := range distances {
			cum += d
			if cum >= r {
				chosen = j
				break
			}
		}
		centroids[i] = append([]float32(nil), points[chosen]...)
	}

	assignments := make([]int, len(points))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := metric.RawEuclidean(p, centroids[0], metric.Scalar)
			for c := 1; c < k; c++ {
				d := metric.RawEuclidean(p, centroids[c], metric.Scalar)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != best {
				changed = true
				assignments[i] = best
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		next := make([][]float32, k)
		for i := range next {
			next[i] = make([]float32, dim)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				next[c][d] += p[d]
			}
		}
		for c := range next {
			if counts[c] == 0 {
				next[c] = centroids[c]
				continue
			}
			for d := 0; d < dim; d++ {
				next[c][d] /= float32(counts[c])
			}
		}
		centroids = next
	}
	return centroids
}

// Save persists the centroids, assignments, and parameters needed to
// reconstruct the index, CRC-framed like the other variants.
func (f *IVF) Save(w io.Writer) error {
	bw := newByteWriter()
	bw.u32(uint32(f.nlist))
	bw.u32(uint32(f.nprobe))
	bw.u32(uint32(f.trainSize))
	bw.u8(boolByte(f.trained))
	bw.u32(uint32(len(f.centroids)))
	for _, c := range f.centroids {
		for _, x := range c {
			bw.f32(x)
		}
	}
	bw.u32(uint32(len(f.vectors)))
	for id, v := range f.vectors {
		bw.id(id)
		for _, x := range v {
			bw.f32(x)
		}
		centroidIdx, assigned := f.assign[id]
		bw.u8(boolByte(assigned))
		bw.u32(uint32(centroidIdx))
	}
	_, err := w.Write(bw.finish())
	return err
}

// LoadIVF deserializes an index written by Save. The blob records neither
// dim nor metric: dim sizes the vectors it reads, and neither value is
// checked against the ones the index was saved with.
func LoadIVF(r io.Reader, dim int, m Metric, mode metric.Mode) (*IVF, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	br, err := newByteReader(data)
	if err != nil {
		return nil, err
	}

	f := NewIVF(dim, m, mode, IVFParams{})
	f.nlist = int(br.u32())
	f.nprobe = int(br.u32())
	f.trainSize = int(br.u32())
	f.trained = br.u8() != 0

	centroidCount := int(br.u32())
	f.centroids = make([][]float32, centroidCount)
	for i := range f.centroids {
		v := make([]float32, dim)
		for j := range v {
			v[j] = br.f32()
		}
		f.centroids[i] = v
	}

	vecCount := int(br.u32())
	for i := 0; i < vecCount; i++ {
		id := br.id()
		v := make([]float32, dim)
		for j := range v {
			v[j] = br.f32()
		}
		assigned := br.u8() != 0
		centroidIdx := int(br.u32())
		if br.err != nil {
			return nil, br.err
		}
		f.vectors[id] = v
		if assigned {
			f.assign[id] = centroidIdx
			f.lists[centroidIdx] = append(f.lists[centroidIdx], id)
		} else {
			f.pending = append(f.pending, pendingVector{id: id, vector: v})
		}
	}
	if err := br.verifyCRC(); err != nil {
		return nil, err
	}
	return f, nil
}
