package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	initialDataFileSize = 4 << 20 // 4MiB
	defaultGrowthFactor = 2
)

// DataFile is the mmap-backed, append-only body described in §4.5: a fixed
// Descriptor header followed by a sequence of CRC-framed records packed
// back-to-back. Deletes never rewrite it; a slot simply becomes
// unreferenced once the offset map no longer points at it.
type DataFile struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	data         []byte
	size         uint64
	nextOffset   uint64
	growthFactor uint64
	desc         Descriptor
	closed       bool
}

// OpenDataFile opens an existing data file at path, or creates one with the
// given dim/metric/indexPolicy if it does not exist. created reports which
// branch was taken, so the caller knows whether to replay a WAL.
func OpenDataFile(path string, dim uint16, metric, indexPolicy uint8) (df *DataFile, created bool, err error) {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		df, err = createDataFile(path, dim, metric, indexPolicy)
		return df, true, err
	}
	df, err = openExistingDataFile(path)
	return df, false, err
}

func createDataFile(path string, dim uint16, metric, indexPolicy uint8) (*DataFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: create data file: %w", err)
	}
	if err := f.Truncate(initialDataFileSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncate data file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, initialDataFileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap data file: %w", err)
	}

	df := &DataFile{
		path:         path,
		file:         f,
		data:         data,
		size:         initialDataFileSize,
		nextOffset:   DescriptorSize,
		growthFactor: defaultGrowthFactor,
		desc: Descriptor{
			Version:     descriptorVersion,
			Dim:         dim,
			Metric:      metric,
			IndexPolicy: indexPolicy,
		},
	}
	df.writeDescriptorLocked()
	return df, nil
}

func openExistingDataFile(path string) (*DataFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat data file: %w", err)
	}
	size := uint64(info.Size())
	if size < DescriptorSize {
		f.Close()
		return nil, fmt.Errorf("%w: data file smaller than descriptor", ErrVersionMismatch)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap data file: %w", err)
	}
	desc, err := DecodeDescriptor(data[:DescriptorSize])
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	return &DataFile{
		path:         path,
		file:         f,
		data:         data,
		size:         size,
		nextOffset:   DescriptorSize,
		growthFactor: defaultGrowthFactor,
		desc:         desc,
	}, nil
}

func (df *DataFile) writeDescriptorLocked() {
	copy(df.data[:DescriptorSize], EncodeDescriptor(df.desc))
}

// Descriptor returns the current (in-memory) header; callers that mutate
// record count should use SetRecordCount then Sync to persist it.
func (df *DataFile) Descriptor() Descriptor {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.desc
}

// SetRecordCount updates the header's record-count hint (not itself
// authoritative; the offset map is the source of truth for membership).
func (df *DataFile) SetRecordCount(n uint64) {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.desc.RecordCount = n
	df.writeDescriptorLocked()
}

// FixSchema fixes dim and indexPolicy in the descriptor, for the "dim is
// fixed on first successful insert" invariant (§3) and the index
// selector's one-time variant choice (§4.11). It is a no-op once dim is
// already non-zero: callers must check Descriptor().Dim == 0 first.
func (df *DataFile) FixSchema(dim uint16, indexPolicy uint8) {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.desc.Dim = dim
	df.desc.IndexPolicy = indexPolicy
	df.writeDescriptorLocked()
}

// Append writes record at the current append cursor, growing and remapping
// the file if needed (§4.5 "extend by max(current*growth_factor, needed)").
// It returns the offset the record was written at.
func (df *DataFile) Append(record []byte) (uint64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return 0, ErrClosed
	}
	if err := df.ensureSpaceLocked(uint64(len(record))); err != nil {
		return 0, err
	}
	offset := df.nextOffset
	copy(df.data[offset:], record)
	df.nextOffset += uint64(len(record))
	return offset, nil
}

// ReadAt returns a copy of the length bytes at offset.
func (df *DataFile) ReadAt(offset, length uint64) ([]byte, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return nil, ErrClosed
	}
	if offset+length > df.size {
		return nil, fmt.Errorf("storage: read [%d,%d) exceeds mapped size %d", offset, offset+length, df.size)
	}
	out := make([]byte, length)
	copy(out, df.data[offset:offset+length])
	return out, nil
}

// NextOffset reports the append cursor, used as the WAL checkpoint
// high-water mark.
func (df *DataFile) NextOffset() uint64 {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.nextOffset
}

// Sync flushes dirty mmap pages to disk (msync), per the checkpoint
// sequence in §4.13.
func (df *DataFile) Sync() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return ErrClosed
	}
	return unix.Msync(df.data, unix.MS_SYNC)
}

func (df *DataFile) ensureSpaceLocked(needed uint64) error {
	if df.nextOffset+needed <= df.size {
		return nil
	}
	newSize := df.size * df.growthFactor
	for df.nextOffset+needed > newSize {
		newSize *= df.growthFactor
	}
	if err := unix.Munmap(df.data); err != nil {
		return fmt.Errorf("storage: munmap before grow: %w", err)
	}
	if err := df.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("storage: truncate to grow: %w", err)
	}
	data, err := unix.Mmap(int(df.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("storage: remap after grow: %w", err)
	}
	df.data = data
	df.size = newSize
	return nil
}

// Close flushes and unmaps the data file.
func (df *DataFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return nil
	}
	df.closed = true
	_ = unix.Msync(df.data, unix.MS_SYNC)
	if err := unix.Munmap(df.data); err != nil {
		df.file.Close()
		return fmt.Errorf("storage: munmap on close: %w", err)
	}
	return df.file.Close()
}
