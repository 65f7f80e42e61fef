package storage

import "testing"

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{Version: descriptorVersion, Dim: 128, Metric: 1, IndexPolicy: 2, RecordCount: 42}
	buf := EncodeDescriptor(d)
	got, err := DecodeDescriptor(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, d)
	}
}

func TestDecodeDescriptorBadMagic(t *testing.T) {
	buf := EncodeDescriptor(Descriptor{Dim: 4})
	buf[0] = 'X'
	if _, err := DecodeDescriptor(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeDescriptorCRCMismatch(t *testing.T) {
	buf := EncodeDescriptor(Descriptor{Dim: 4})
	buf[9] ^= 0xFF
	if _, err := DecodeDescriptor(buf); err == nil {
		t.Fatal("expected error for crc mismatch")
	}
}

func TestDecodeDescriptorTooShort(t *testing.T) {
	if _, err := DecodeDescriptor(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}
