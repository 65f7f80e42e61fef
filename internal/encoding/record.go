package encoding

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// RecordTag identifies the current on-disk document record layout (§4.3).
const RecordTag byte = 0x01

// FlagQuantized marks a record's vector payload as scalar-int8-quantized
// rather than raw float32.
const FlagQuantized uint32 = 1 << 0

// castagnoli is used for every framed block on disk, per the CRC32C
// requirement in §6 of the spec.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is the decoded form of one document's on-disk bytes. VectorF32 is
// populated when Quantized is false; Scale and Quantized8 are populated
// when Quantized is true. MetaBytes holds the pre-encoded tagged metadata
// blob (see EncodeMetadata/DecodeMetadata).
type Record struct {
	ID         [16]byte
	Quantized  bool
	Scale      float32
	Quantized8 []int8
	VectorF32  []float32
	Text       string
	MetaBytes  []byte
}

// EncodeRecord serializes a Record to the on-disk layout, framing it with a
// trailing CRC32C over every preceding byte.
func EncodeRecord(r Record) ([]byte, error) {
	dim := len(r.VectorF32)
	if r.Quantized {
		dim = len(r.Quantized8)
	}
	if dim > 0xFFFF {
		return nil, fmt.Errorf("record: dim %d exceeds u16 range", dim)
	}

	var flags uint32
	if r.Quantized {
		flags |= FlagQuantized
	}

	size := 1 + 16 + 4 + 2
	if r.Quantized {
		size += 4 + dim // scale + int8 per component
	} else {
		size += 4 * dim
	}
	size += 4 + len(r.Text)
	size += 4 + len(r.MetaBytes)
	size += 4 // crc

	buf := make([]byte, size)
	off := 0

	buf[off] = RecordTag
	off++

	copy(buf[off:off+16], r.ID[:])
	off += 16

	binary.LittleEndian.PutUint32(buf[off:], flags)
	off += 4

	binary.LittleEndian.PutUint16(buf[off:], uint16(dim))
	off += 2

	if r.Quantized {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(r.Scale))
		off += 4
		for _, q := range r.Quantized8 {
			buf[off] = byte(q)
			off++
		}
	} else {
		for _, v := range r.VectorF32 {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Text)))
	off += 4
	off += copy(buf[off:], r.Text)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.MetaBytes)))
	off += 4
	off += copy(buf[off:], r.MetaBytes)

	crc := crc32.Checksum(buf[:off], castagnoli)
	binary.LittleEndian.PutUint32(buf[off:], crc)

	return buf, nil
}

// DecodeRecord parses one record from the front of data, returning the
// record and the number of bytes it occupied. It fails closed on any tag,
// length, or CRC mismatch per §7's corruption taxonomy.
func DecodeRecord(data []byte) (Record, int, error) {
	var r Record
	if len(data) < 1+16+4+2+4+4+4 {
		return r, 0, fmt.Errorf("%w: record shorter than minimum header", ErrCorrupt)
	}
	off := 0

	if data[off] != RecordTag {
		return r, 0, fmt.Errorf("%w: bad record tag 0x%02x", ErrCorrupt, data[off])
	}
	off++

	copy(r.ID[:], data[off:off+16])
	off += 16

	flags := binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.Quantized = flags&FlagQuantized != 0

	dim := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if r.Quantized {
		if off+4+dim > len(data) {
			return r, 0, fmt.Errorf("%w: truncated quantized vector", ErrCorrupt)
		}
		r.Scale = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		r.Quantized8 = make([]int8, dim)
		for i := 0; i < dim; i++ {
			r.Quantized8[i] = int8(data[off])
			off++
		}
	} else {
		if off+4*dim > len(data) {
			return r, 0, fmt.Errorf("%w: truncated float32 vector", ErrCorrupt)
		}
		r.VectorF32 = make([]float32, dim)
		for i := 0; i < dim; i++ {
			r.VectorF32[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}

	if off+4 > len(data) {
		return r, 0, fmt.Errorf("%w: truncated text length", ErrCorrupt)
	}
	textLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if off+textLen > len(data) {
		return r, 0, fmt.Errorf("%w: truncated text", ErrCorrupt)
	}
	r.Text = string(data[off : off+textLen])
	off += textLen

	if off+4 > len(data) {
		return r, 0, fmt.Errorf("%w: truncated metadata length", ErrCorrupt)
	}
	metaLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if off+metaLen > len(data) {
		return r, 0, fmt.Errorf("%w: truncated metadata", ErrCorrupt)
	}
	r.MetaBytes = append([]byte(nil), data[off:off+metaLen]...)
	off += metaLen

	if off+4 > len(data) {
		return r, 0, fmt.Errorf("%w: truncated crc", ErrCorrupt)
	}
	wantCRC := binary.LittleEndian.Uint32(data[off:])
	gotCRC := crc32.Checksum(data[:off], castagnoli)
	off += 4
	if wantCRC != gotCRC {
		return r, 0, fmt.Errorf("%w: crc mismatch", ErrCorrupt)
	}

	return r, off, nil
}

// ChecksumCastagnoli computes the CRC32C used for every framed block on disk.
func ChecksumCastagnoli(b []byte) uint32 { return crc32.Checksum(b, castagnoli) }
