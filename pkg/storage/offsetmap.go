package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gbchill/piramid/internal/encoding"
	"github.com/google/uuid"
)

// Entry locates one document's record within the data file (§4.4).
type Entry struct {
	Offset uint64
	Length uint32
}

// OffsetMap is the id -> (offset, length) index described in §4.4. Updates
// replace an id's entry atomically (the old entry is simply overwritten;
// the stale data-file slot is abandoned, not reclaimed). Insertion order is
// tracked for the search engine's deterministic tie-break (§4.12) and the
// registry's iteration guarantees.
type OffsetMap struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]Entry
	order    []uuid.UUID
	orderIdx map[uuid.UUID]int // id -> position in order, kept in sync by Put/Delete
}

// NewOffsetMap returns an empty offset map.
func NewOffsetMap() *OffsetMap {
	return &OffsetMap{entries: make(map[uuid.UUID]Entry), orderIdx: make(map[uuid.UUID]int)}
}

// Get returns the entry for id and whether it was present.
func (m *OffsetMap) Get(id uuid.UUID) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// Put inserts or atomically replaces id's entry. A fresh id is appended to
// the insertion-order list; replacing an existing id leaves its original
// position untouched.
func (m *OffsetMap) Put(id uuid.UUID, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[id]; !exists {
		m.orderIdx[id] = len(m.order)
		m.order = append(m.order, id)
	}
	m.entries[id] = e
}

// Delete removes id's entry, reporting whether it was present.
func (m *OffsetMap) Delete(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	i, ok := m.orderIdx[id]
	if !ok {
		return true
	}
	m.order = append(m.order[:i], m.order[i+1:]...)
	delete(m.orderIdx, id)
	for ; i < len(m.order); i++ {
		m.orderIdx[m.order[i]] = i
	}
	return true
}

// Len returns the number of live entries.
func (m *OffsetMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// InsertionOrder returns ids in the order they were first inserted.
func (m *OffsetMap) InsertionOrder() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, len(m.order))
	copy(out, m.order)
	return out
}

// OrderIndex returns id's position in insertion order, for the search
// engine's deterministic top-k tie-break (§4.12 "ties broken by insertion
// order, then id lex order").
func (m *OffsetMap) OrderIndex(id uuid.UUID) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.orderIdx[id]
	return i, ok
}

// Each calls fn for every live id/entry pair. fn must not mutate the map.
func (m *OffsetMap) Each(fn func(id uuid.UUID, e Entry)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		fn(id, m.entries[id])
	}
}

// Serialize dumps the offset map as a length-prefixed, CRC-framed blob
// (§4.4), preserving insertion order.
func (m *OffsetMap) Serialize() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := 4 + len(m.order)*(16+8+4) + 4
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.order)))
	off += 4
	for _, id := range m.order {
		e := m.entries[id]
		copy(buf[off:off+16], id[:])
		off += 16
		binary.LittleEndian.PutUint64(buf[off:], e.Offset)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], e.Length)
		off += 4
	}
	crc := encoding.ChecksumCastagnoli(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

// LoadOffsetMap reconstructs an OffsetMap from a blob written by Serialize.
func LoadOffsetMap(buf []byte) (*OffsetMap, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: offset map blob too short", encoding.ErrCorrupt)
	}
	count := int(binary.LittleEndian.Uint32(buf[0:4]))
	need := 4 + count*(16+8+4) + 4
	if len(buf) < need {
		return nil, fmt.Errorf("%w: offset map blob truncated", encoding.ErrCorrupt)
	}
	gotCRC := encoding.ChecksumCastagnoli(buf[:need-4])
	wantCRC := binary.LittleEndian.Uint32(buf[need-4:])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: offset map crc mismatch", encoding.ErrCorrupt)
	}

	m := NewOffsetMap()
	off := 4
	for i := 0; i < count; i++ {
		var id uuid.UUID
		copy(id[:], buf[off:off+16])
		off += 16
		offset := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		length := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		m.Put(id, Entry{Offset: offset, Length: length})
	}
	return m, nil
}
