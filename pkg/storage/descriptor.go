// Package storage implements the per-collection on-disk layout (§4.3-§4.6):
// a memory-mapped, append-only data file, an offset map sidecar, and a
// write-ahead log, grounded on the mmap/WAL design in the dittofs cache
// persister reference (magic-prefixed header, growth-factor remap,
// CRC-framed append-only entries, replay-to-recover).
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/gbchill/piramid/internal/encoding"
)

const descriptorMagic = "PRMD"
const descriptorVersion uint16 = 1
const DescriptorSize = 64

// Descriptor is the fixed-size header at the start of a collection's data
// file (§4.5 "fixed header"): format version, vector dimension, distance
// metric, and a record-count hint used to size the offset map on load.
type Descriptor struct {
	Version     uint16
	Dim         uint16
	Metric      uint8
	IndexPolicy uint8
	RecordCount uint64
}

// EncodeDescriptor serializes d into the fixed DescriptorSize-byte header,
// CRC-framed like every other on-disk block.
func EncodeDescriptor(d Descriptor) []byte {
	buf := make([]byte, DescriptorSize)
	copy(buf[0:4], descriptorMagic)
	binary.LittleEndian.PutUint16(buf[4:6], descriptorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], d.Dim)
	buf[8] = d.Metric
	buf[9] = d.IndexPolicy
	binary.LittleEndian.PutUint64(buf[10:18], d.RecordCount)
	crc := encoding.ChecksumCastagnoli(buf[:DescriptorSize-4])
	binary.LittleEndian.PutUint32(buf[DescriptorSize-4:], crc)
	return buf
}

// DecodeDescriptor parses a header previously written by EncodeDescriptor,
// failing closed on a bad magic, unsupported version, or CRC mismatch
// (§7 corruption taxonomy).
func DecodeDescriptor(buf []byte) (Descriptor, error) {
	var d Descriptor
	if len(buf) < DescriptorSize {
		return d, fmt.Errorf("%w: descriptor shorter than %d bytes", encoding.ErrCorrupt, DescriptorSize)
	}
	if string(buf[0:4]) != descriptorMagic {
		return d, fmt.Errorf("%w: bad descriptor magic", encoding.ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != descriptorVersion {
		return d, fmt.Errorf("%w: unsupported descriptor version %d", ErrVersionMismatch, version)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[DescriptorSize-4:])
	gotCRC := encoding.ChecksumCastagnoli(buf[:DescriptorSize-4])
	if wantCRC != gotCRC {
		return d, fmt.Errorf("%w: descriptor crc mismatch", encoding.ErrCorrupt)
	}
	d.Version = version
	d.Dim = binary.LittleEndian.Uint16(buf[6:8])
	d.Metric = buf[8]
	d.IndexPolicy = buf[9]
	d.RecordCount = binary.LittleEndian.Uint64(buf[10:18])
	return d, nil
}
