package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/gbchill/piramid/internal/encoding"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	walMagic          = "PRWL"
	walHeaderSize     = 32
	walInitialSize    = 1 << 20 // 1MiB
	walGrowthFactor   = 2
)

// WALRecordType identifies one of the four record kinds in §4.6.
type WALRecordType uint8

const (
	WALInsert WALRecordType = iota
	WALUpdate
	WALDelete
	WALCheckpoint
)

// WALRecord is the decoded form of one WAL entry. Doc is populated for
// Insert/Update (the record-codec-encoded document bytes); the three
// Checkpoint fields are populated only for WALCheckpoint.
type WALRecord struct {
	Type             WALRecordType
	ID               uuid.UUID
	Doc              []byte
	HighWaterOffset  uint64
	OffsetMapDigest  uint32
	IndexDigest      uint32
}

type walHeader struct {
	NextOffset  uint64
	RecordCount uint32
}

// WAL is the mmap-backed, append-only, CRC-framed write-ahead log described
// in §4.6, structured after the same growth/remap discipline as DataFile
// (and, upstream, the dittofs mmap persister reference).
type WAL struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	size   uint64
	hdr    walHeader
	closed bool

	// sinceSync tracks records appended since the last fsync, for the
	// "batched" fsync policy's N-records trigger (§4.6).
	sinceSync int
}

// OpenWAL opens an existing WAL file at path or creates an empty one.
func OpenWAL(path string) (*WAL, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return createWAL(path)
	}
	return openExistingWAL(path)
}

func createWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: create wal: %w", err)
	}
	if err := f.Truncate(walInitialSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncate wal: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, walInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap wal: %w", err)
	}
	w := &WAL{
		path: path,
		file: f,
		data: data,
		size: walInitialSize,
		hdr:  walHeader{NextOffset: walHeaderSize},
	}
	w.writeHeaderLocked()
	return w, nil
}

func openExistingWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat wal: %w", err)
	}
	size := uint64(info.Size())
	if size < walHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: wal smaller than header", encoding.ErrCorrupt)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap wal: %w", err)
	}
	if string(data[0:4]) != walMagic {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("%w: bad wal magic", encoding.ErrCorrupt)
	}
	hdr := walHeader{
		NextOffset:  binary.LittleEndian.Uint64(data[8:16]),
		RecordCount: binary.LittleEndian.Uint32(data[16:20]),
	}
	return &WAL{path: path, file: f, data: data, size: size, hdr: hdr}, nil
}

func (w *WAL) writeHeaderLocked() {
	copy(w.data[0:4], walMagic)
	binary.LittleEndian.PutUint16(w.data[4:6], 1)
	binary.LittleEndian.PutUint64(w.data[8:16], w.hdr.NextOffset)
	binary.LittleEndian.PutUint32(w.data[16:20], w.hdr.RecordCount)
}

// encodeWALRecord serializes rec to [u32 len][payload][u32 crc(payload)].
func encodeWALRecord(rec WALRecord) []byte {
	var payload []byte
	switch rec.Type {
	case WALInsert, WALUpdate:
		payload = make([]byte, 1+16+4+len(rec.Doc))
		payload[0] = byte(rec.Type)
		copy(payload[1:17], rec.ID[:])
		binary.LittleEndian.PutUint32(payload[17:21], uint32(len(rec.Doc)))
		copy(payload[21:], rec.Doc)
	case WALDelete:
		payload = make([]byte, 1+16)
		payload[0] = byte(rec.Type)
		copy(payload[1:17], rec.ID[:])
	case WALCheckpoint:
		payload = make([]byte, 1+8+4+4)
		payload[0] = byte(rec.Type)
		binary.LittleEndian.PutUint64(payload[1:9], rec.HighWaterOffset)
		binary.LittleEndian.PutUint32(payload[9:13], rec.OffsetMapDigest)
		binary.LittleEndian.PutUint32(payload[13:17], rec.IndexDigest)
	}

	wire := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(wire[0:4], uint32(len(payload)))
	copy(wire[4:], payload)
	crc := encoding.ChecksumCastagnoli(payload)
	binary.LittleEndian.PutUint32(wire[4+len(payload):], crc)
	return wire
}

func decodeWALRecord(buf []byte) (WALRecord, int, error) {
	var rec WALRecord
	if len(buf) < 8 {
		return rec, 0, fmt.Errorf("%w: wal entry shorter than length prefix", encoding.ErrCorrupt)
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	total := 4 + payloadLen + 4
	if len(buf) < total {
		return rec, 0, fmt.Errorf("%w: wal entry truncated", encoding.ErrCorrupt)
	}
	payload := buf[4 : 4+payloadLen]
	wantCRC := binary.LittleEndian.Uint32(buf[4+payloadLen:])
	if encoding.ChecksumCastagnoli(payload) != wantCRC {
		return rec, 0, fmt.Errorf("%w: wal entry crc mismatch", encoding.ErrCorrupt)
	}
	if payloadLen < 1 {
		return rec, 0, fmt.Errorf("%w: empty wal payload", encoding.ErrCorrupt)
	}

	rec.Type = WALRecordType(payload[0])
	switch rec.Type {
	case WALInsert, WALUpdate:
		if payloadLen < 21 {
			return rec, 0, fmt.Errorf("%w: truncated insert/update wal entry", encoding.ErrCorrupt)
		}
		copy(rec.ID[:], payload[1:17])
		docLen := int(binary.LittleEndian.Uint32(payload[17:21]))
		if 21+docLen != payloadLen {
			return rec, 0, fmt.Errorf("%w: wal doc length mismatch", encoding.ErrCorrupt)
		}
		rec.Doc = append([]byte(nil), payload[21:]...)
	case WALDelete:
		if payloadLen != 17 {
			return rec, 0, fmt.Errorf("%w: malformed delete wal entry", encoding.ErrCorrupt)
		}
		copy(rec.ID[:], payload[1:17])
	case WALCheckpoint:
		if payloadLen != 17 {
			return rec, 0, fmt.Errorf("%w: malformed checkpoint wal entry", encoding.ErrCorrupt)
		}
		rec.HighWaterOffset = binary.LittleEndian.Uint64(payload[1:9])
		rec.OffsetMapDigest = binary.LittleEndian.Uint32(payload[9:13])
		rec.IndexDigest = binary.LittleEndian.Uint32(payload[13:17])
	default:
		return rec, 0, fmt.Errorf("%w: unknown wal record type %d", encoding.ErrCorrupt, rec.Type)
	}
	return rec, total, nil
}

// Append writes rec to the log, growing the mapping if needed. It does not
// fsync; callers drive durability via Sync per the collection's configured
// WALPolicy.
func (w *WAL) Append(rec WALRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	wire := encodeWALRecord(rec)
	if err := w.ensureSpaceLocked(uint64(len(wire))); err != nil {
		return err
	}
	copy(w.data[w.hdr.NextOffset:], wire)
	w.hdr.NextOffset += uint64(len(wire))
	w.hdr.RecordCount++
	w.writeHeaderLocked()
	w.sinceSync++
	return nil
}

// PendingSinceSync reports how many records have been appended since the
// last Sync, for the "batched" fsync policy's N-records trigger.
func (w *WAL) PendingSinceSync() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sinceSync
}

// Sync flushes the WAL to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := unix.Msync(w.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("storage: msync wal: %w", err)
	}
	w.sinceSync = 0
	return nil
}

// Replay decodes every record from the start of the log to the current
// append cursor, in order. The collection layer is responsible for
// starting its replay application from the last Checkpoint record onward
// (§4.6 "replays the WAL from the last valid Checkpoint record forward").
func (w *WAL) Replay() ([]WALRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []WALRecord
	offset := uint64(walHeaderSize)
	for offset < w.hdr.NextOffset {
		if offset+8 > w.size {
			return out, fmt.Errorf("%w: wal torn at offset %d", encoding.ErrCorrupt, offset)
		}
		rec, n, err := decodeWALRecord(w.data[offset:w.hdr.NextOffset])
		if err != nil {
			// A torn trailing record is the documented best-effort
			// repair path (§4.13): stop here and return what decoded
			// cleanly instead of failing the whole replay.
			return out, err
		}
		out = append(out, rec)
		offset += uint64(n)
	}
	return out, nil
}

// Reset truncates the log back to an empty header, for use immediately
// after a successful checkpoint flush (§4.6 "truncation ... happens only
// immediately after a successful checkpoint").
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.hdr = walHeader{NextOffset: walHeaderSize}
	w.writeHeaderLocked()
	return unix.Msync(w.data, unix.MS_SYNC)
}

func (w *WAL) ensureSpaceLocked(needed uint64) error {
	if w.hdr.NextOffset+needed <= w.size {
		return nil
	}
	newSize := w.size * walGrowthFactor
	for w.hdr.NextOffset+needed > newSize {
		newSize *= walGrowthFactor
	}
	if err := unix.Munmap(w.data); err != nil {
		return fmt.Errorf("storage: munmap wal before grow: %w", err)
	}
	if err := w.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("storage: truncate wal to grow: %w", err)
	}
	data, err := unix.Mmap(int(w.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("storage: remap wal after grow: %w", err)
	}
	w.data = data
	w.size = newSize
	return nil
}

// Close flushes and unmaps the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = unix.Msync(w.data, unix.MS_SYNC)
	if err := unix.Munmap(w.data); err != nil {
		w.file.Close()
		return fmt.Errorf("storage: munmap wal on close: %w", err)
	}
	return w.file.Close()
}
