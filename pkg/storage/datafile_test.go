package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDataFileCreateAppendReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	df, created, err := OpenDataFile(path, 128, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer df.Close()
	if !created {
		t.Fatal("expected a fresh file to be reported as created")
	}

	rec1 := []byte("first record payload")
	rec2 := []byte("second, slightly longer record payload")

	off1, err := df.Append(rec1)
	if err != nil {
		t.Fatal(err)
	}
	off2, err := df.Append(rec2)
	if err != nil {
		t.Fatal(err)
	}
	if off2 != off1+uint64(len(rec1)) {
		t.Fatalf("second record should immediately follow the first: off1=%d off2=%d", off1, off2)
	}

	got1, err := df.ReadAt(off1, uint64(len(rec1)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, rec1) {
		t.Fatalf("readback mismatch: got %q want %q", got1, rec1)
	}

	got2, err := df.ReadAt(off2, uint64(len(rec2)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, rec2) {
		t.Fatalf("readback mismatch: got %q want %q", got2, rec2)
	}
}

func TestDataFileGrowsBeyondInitialSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	df, _, err := OpenDataFile(path, 4, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer df.Close()

	big := make([]byte, initialDataFileSize+1024)
	for i := range big {
		big[i] = byte(i)
	}
	off, err := df.Append(big)
	if err != nil {
		t.Fatalf("append beyond initial size should grow and succeed: %v", err)
	}
	got, err := df.ReadAt(off, uint64(len(big)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("readback mismatch after growth")
	}
}

func TestDataFileReopenPreservesDescriptorAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	df, _, err := OpenDataFile(path, 64, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	rec := []byte("persisted record")
	off, err := df.Append(rec)
	if err != nil {
		t.Fatal(err)
	}
	df.SetRecordCount(1)
	if err := df.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := df.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, created, err := OpenDataFile(path, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if created {
		t.Fatal("reopening an existing file should not report created=true")
	}
	desc := reopened.Descriptor()
	if desc.Dim != 64 || desc.Metric != 2 || desc.IndexPolicy != 1 || desc.RecordCount != 1 {
		t.Fatalf("descriptor not preserved across reopen: %+v", desc)
	}
	got, err := reopened.ReadAt(off, uint64(len(rec)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, rec) {
		t.Fatal("record not preserved across reopen")
	}
}
