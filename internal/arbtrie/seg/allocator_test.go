package seg

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

func newTestAllocator(t *testing.T) (*Allocator, *blockfile.BlockFile) {
	t.Helper()
	dir := t.TempDir()

	bf, err := blockfile.Open(context.Background(), blockfile.Config{
		Path:          filepath.Join(dir, "heap.db"),
		BlockSize:     64 * 1024,
		ReserveBlocks: 64,
	})
	if err != nil {
		t.Fatalf("blockfile.Open failed: %v", err)
	}
	t.Cleanup(func() { bf.Close() })

	alloc, err := NewAllocator(Config{
		BlockFile:   bf,
		SegmentSize: 64 * 1024,
		Sync:        &options.SyncOptions{SyncMode: options.SyncNone},
		Compaction:  &options.CompactionOptions{Interval: time.Hour, CompactUnpinnedUnusedThresholdMB: 0},
		Cache:       &options.CacheOptions{MaxPinnedCacheSizeMB: 1, ReadCacheWindow: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	return alloc, bf
}

func TestGetNewSegmentMintsFreshSegment(t *testing.T) {
	alloc, _ := newTestAllocator(t)

	s, err := alloc.GetNewSegment(false)
	if err != nil {
		t.Fatalf("GetNewSegment failed: %v", err)
	}
	if s.Capacity() != 64*1024 {
		t.Fatalf("expected capacity 65536, got %d", s.Capacity())
	}

	off, err := s.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected first offset 0, got %d", off)
	}
}

func TestSegmentAllocRejectsOverflow(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	s, err := alloc.GetNewSegment(false)
	if err != nil {
		t.Fatalf("GetNewSegment failed: %v", err)
	}

	if _, err := s.Alloc(s.Capacity()); err != nil {
		t.Fatalf("expected full-capacity alloc to succeed once: %v", err)
	}
	if _, err := s.Alloc(1); err != ErrSegmentFull {
		t.Fatalf("expected ErrSegmentFull, got %v", err)
	}
}

func TestRecycleReturnsSegmentToReadyQueue(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	s, err := alloc.GetNewSegment(false)
	if err != nil {
		t.Fatalf("GetNewSegment failed: %v", err)
	}
	s.Alloc(1000)
	s.MarkFreed(1000) // fully garbage: freed == used

	alloc.finishRecycle(s)

	s2, err := alloc.GetNewSegment(false)
	if err != nil {
		t.Fatalf("second GetNewSegment failed: %v", err)
	}
	if s2.Number() != s.Number() {
		t.Fatalf("expected recycled segment %d to be reused, got %d", s.Number(), s2.Number())
	}
	if s2.Used() != 0 {
		t.Fatalf("expected recycled segment write cursor reset, got %d", s2.Used())
	}
}

func TestCompactorRecyclesFullyGarbageSegment(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	s, err := alloc.GetNewSegment(false)
	if err != nil {
		t.Fatalf("GetNewSegment failed: %v", err)
	}
	if _, err := s.Alloc(2000); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	s.MarkFreed(2000)

	ctx, cancel := context.WithCancel(context.Background())
	alloc.compaction.Interval = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- alloc.RunCompactor(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("timed out waiting for compactor to recycle the segment")
		default:
		}
		if s.meta.Flags&FlagFree != 0 {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
