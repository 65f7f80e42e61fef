package encoding

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func sampleRecord(t *testing.T, quantized bool) Record {
	t.Helper()
	id := uuid.New()
	meta, err := EncodeMetadata(map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	r := Record{Text: "hello world", MetaBytes: meta}
	copy(r.ID[:], id[:])
	if quantized {
		r.Quantized = true
		r.Scale = 0.01
		r.Quantized8 = []int8{1, -1, 127, -127, 0}
	} else {
		r.VectorF32 = []float32{1, 2, 3, 4}
	}
	return r
}

func TestRecordRoundTrip(t *testing.T) {
	for _, quantized := range []bool{false, true} {
		r := sampleRecord(t, quantized)
		enc, err := EncodeRecord(r)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, n, err := DecodeRecord(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(enc) {
			t.Fatalf("decoded length %d != encoded length %d", n, len(enc))
		}
		if dec.ID != r.ID || dec.Text != r.Text || dec.Quantized != r.Quantized {
			t.Fatalf("round trip mismatch: %+v vs %+v", dec, r)
		}
		if !bytes.Equal(dec.MetaBytes, r.MetaBytes) {
			t.Fatalf("metadata bytes mismatch")
		}
	}
}

func TestRecordRoundTripEmptyTextAndMetadata(t *testing.T) {
	r := Record{VectorF32: []float32{0, 0}}
	enc, err := EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	dec, _, err := DecodeRecord(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Text != "" || len(dec.MetaBytes) != 0 {
		t.Fatalf("expected empty text/metadata, got %q %v", dec.Text, dec.MetaBytes)
	}
}

func TestDecodeRecordBadTag(t *testing.T) {
	r := sampleRecord(t, false)
	enc, err := EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	enc[0] = 0xFF
	if _, _, err := DecodeRecord(enc); err == nil {
		t.Fatal("expected error for bad record tag")
	}
}

func TestDecodeRecordCRCMismatch(t *testing.T) {
	r := sampleRecord(t, false)
	enc, err := EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	enc[len(enc)-1] ^= 0xFF
	if _, _, err := DecodeRecord(enc); err == nil {
		t.Fatal("expected error for crc mismatch")
	}
}

func TestDecodeRecordTruncated(t *testing.T) {
	r := sampleRecord(t, true)
	enc, err := EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := DecodeRecord(enc[:10]); err == nil {
		t.Fatal("expected error for truncated record")
	}
}
