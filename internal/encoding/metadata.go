// Package encoding implements the self-describing binary formats used on
// the storage boundary: the tagged metadata value encoding and the
// document record layout built on top of it.
package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value tags for the self-describing metadata encoding.
const (
	tagNull   byte = 0x00
	tagBool   byte = 0x01
	tagInt64  byte = 0x02
	tagFloat  byte = 0x03
	tagString byte = 0x04
	tagSeq    byte = 0x05
)

// EncodeMetadata serializes a metadata map to its self-describing tagged
// form: a u32 key count, followed by (u16 keylen, key bytes, tagged value)
// per entry. Key order is not preserved.
func EncodeMetadata(m map[string]any) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(m)))

	for k, v := range m {
		if len(k) > 0xFFFF {
			return nil, fmt.Errorf("metadata key too long: %d bytes", len(k))
		}
		kb := make([]byte, 2+len(k))
		binary.LittleEndian.PutUint16(kb, uint16(len(k)))
		copy(kb[2:], k)
		buf = append(buf, kb...)

		vb, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		buf = append(buf, vb...)
	}
	return buf, nil
}

// DecodeMetadata parses the tagged form produced by EncodeMetadata.
func DecodeMetadata(data []byte) (map[string]any, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("metadata: truncated header")
	}
	count := binary.LittleEndian.Uint32(data)
	off := 4
	m := make(map[string]any, count)

	for i := uint32(0); i < count; i++ {
		if off+2 > len(data) {
			return nil, fmt.Errorf("metadata: truncated key length")
		}
		klen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+klen > len(data) {
			return nil, fmt.Errorf("metadata: truncated key")
		}
		key := string(data[off : off+klen])
		off += klen

		v, n, err := decodeValue(data[off:])
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", key, err)
		}
		off += n
		m[key] = v
	}
	return m, nil
}

func encodeValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte{tagNull}, nil
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return []byte{tagBool, b}, nil
	case int:
		return encodeInt64(int64(x)), nil
	case int64:
		return encodeInt64(x), nil
	case float64:
		buf := make([]byte, 9)
		buf[0] = tagFloat
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(x))
		return buf, nil
	case string:
		if len(x) > math.MaxUint32 {
			return nil, fmt.Errorf("string value too long: %d bytes", len(x))
		}
		buf := make([]byte, 5+len(x))
		buf[0] = tagString
		binary.LittleEndian.PutUint32(buf[1:], uint32(len(x)))
		copy(buf[5:], x)
		return buf, nil
	case []any:
		buf := make([]byte, 5)
		buf[0] = tagSeq
		binary.LittleEndian.PutUint32(buf[1:], uint32(len(x)))
		for _, elem := range x {
			eb, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported metadata value type %T", v)
	}
}

func encodeInt64(x int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagInt64
	binary.LittleEndian.PutUint64(buf[1:], uint64(x))
	return buf
}

func decodeValue(data []byte) (any, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("truncated value tag")
	}
	switch data[0] {
	case tagNull:
		return nil, 1, nil
	case tagBool:
		if len(data) < 2 {
			return nil, 0, fmt.Errorf("truncated bool value")
		}
		return data[1] != 0, 2, nil
	case tagInt64:
		if len(data) < 9 {
			return nil, 0, fmt.Errorf("truncated int64 value")
		}
		return int64(binary.LittleEndian.Uint64(data[1:9])), 9, nil
	case tagFloat:
		if len(data) < 9 {
			return nil, 0, fmt.Errorf("truncated float64 value")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[1:9])), 9, nil
	case tagString:
		if len(data) < 5 {
			return nil, 0, fmt.Errorf("truncated string length")
		}
		n := int(binary.LittleEndian.Uint32(data[1:5]))
		if 5+n > len(data) {
			return nil, 0, fmt.Errorf("truncated string value")
		}
		return string(data[5 : 5+n]), 5 + n, nil
	case tagSeq:
		if len(data) < 5 {
			return nil, 0, fmt.Errorf("truncated sequence length")
		}
		n := int(binary.LittleEndian.Uint32(data[1:5]))
		off := 5
		seq := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, consumed, err := decodeValue(data[off:])
			if err != nil {
				return nil, 0, err
			}
			seq = append(seq, v)
			off += consumed
		}
		return seq, off, nil
	default:
		return nil, 0, fmt.Errorf("unknown value tag 0x%02x", data[0])
	}
}
