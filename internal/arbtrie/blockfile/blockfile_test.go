package blockfile

import (
	"context"
	"path/filepath"
	"testing"
)

func TestAllocGrowsMappingAndPersistsData(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Path:          filepath.Join(dir, "heap.db"),
		BlockSize:     4096,
		ReserveBlocks: 1024,
	}

	bf, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer bf.Close()

	idx, err := bf.Alloc()
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected first block index 0, got %d", idx)
	}

	block := bf.Get(idx)
	copy(block, []byte("hello arbtrie"))

	idx2, err := bf.Alloc()
	if err != nil {
		t.Fatalf("second Alloc failed: %v", err)
	}
	if idx2 != 1 {
		t.Fatalf("expected second block index 1, got %d", idx2)
	}

	if got := string(bf.Get(0)[:13]); got != "hello arbtrie" {
		t.Fatalf("data did not persist in block 0: got %q", got)
	}
}

func TestReopenPreservesMappedPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heap.db")
	cfg := Config{Path: path, BlockSize: 4096, ReserveBlocks: 64}

	bf, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := bf.Alloc(); err != nil {
			t.Fatalf("Alloc failed: %v", err)
		}
	}
	copy(bf.Get(3), []byte("persisted"))
	if err := bf.Fsync(false); err != nil {
		t.Fatalf("Fsync failed: %v", err)
	}
	if err := bf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	bf2, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer bf2.Close()

	if got := string(bf2.Get(3)[:9]); got != "persisted" {
		t.Fatalf("expected persisted data after reopen, got %q", got)
	}
}

func TestOpenRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(context.Background(), Config{
		Path:          filepath.Join(dir, "heap.db"),
		BlockSize:     100,
		ReserveBlocks: 8,
	})
	if err == nil {
		t.Fatal("expected an error for non-power-of-two block size")
	}
}

func TestAllocBeyondCapacityFails(t *testing.T) {
	dir := t.TempDir()
	bf, err := Open(context.Background(), Config{
		Path:          filepath.Join(dir, "heap.db"),
		BlockSize:     4096,
		ReserveBlocks: 2,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer bf.Close()

	if _, err := bf.Alloc(); err != nil {
		t.Fatalf("first Alloc failed: %v", err)
	}
	if _, err := bf.Alloc(); err != nil {
		t.Fatalf("second Alloc failed: %v", err)
	}
	if _, err := bf.Alloc(); err == nil {
		t.Fatal("expected third Alloc beyond reserved capacity to fail")
	}
}
