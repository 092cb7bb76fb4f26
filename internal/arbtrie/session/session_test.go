package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/seg"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

func newTestManager(t *testing.T, maxThreads uint32) *Manager {
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

	alloc, err := seg.NewAllocator(seg.Config{
		BlockFile:   bf,
		SegmentSize: 64 * 1024,
		Sync:        &options.SyncOptions{SyncMode: options.SyncNone},
		Compaction:  &options.CompactionOptions{Interval: time.Hour},
		Cache:       &options.CacheOptions{MaxPinnedCacheSizeMB: 1, ReadCacheWindow: time.Hour},
	})
	if err != nil {
		t.Fatalf("seg.NewAllocator failed: %v", err)
	}

	mgr, err := NewManager(Config{
		MaxThreads: maxThreads,
		Allocator:  alloc,
		Cache:      &options.CacheOptions{MaxCacheableObjectSize: 4096, EnableReadCache: true},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr
}

func TestStartSessionRespectsMaxThreads(t *testing.T) {
	mgr := newTestManager(t, 1)

	s1, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("first StartSession failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := mgr.StartSession(ctx); err == nil {
		t.Fatal("expected second StartSession to block and time out while slot is held")
	}

	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession after release failed: %v", err)
	}
	s2.Close()
}

func TestLockNestingPublishesOnlyOnOutermostTransition(t *testing.T) {
	mgr := newTestManager(t, 4)
	s, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer s.Close()

	mgr.AdvanceEndPointer()
	mgr.AdvanceEndPointer()

	s.Lock()
	rAfterFirstLock := s.rStar.Load()
	s.Lock()
	if s.rStar.Load() != rAfterFirstLock {
		t.Fatalf("nested Lock should not republish R*")
	}
	if s.RLockDepth() != 2 {
		t.Fatalf("expected depth 2, got %d", s.RLockDepth())
	}

	mgr.AdvanceEndPointer() // E advances while locked; R* must not move yet.
	s.Unlock()
	if s.rStar.Load() != rAfterFirstLock {
		t.Fatalf("inner Unlock should not republish R*")
	}

	s.Unlock()
	if s.rStar.Load() == rAfterFirstLock {
		t.Fatalf("outermost Unlock should republish R* to the latest E")
	}
	if s.RLockDepth() != 0 {
		t.Fatalf("expected depth 0 after unwinding, got %d", s.RLockDepth())
	}
}

func TestMinRStarTracksSlowestSession(t *testing.T) {
	mgr := newTestManager(t, 4)
	s1, _ := mgr.StartSession(context.Background())
	s2, _ := mgr.StartSession(context.Background())
	defer s1.Close()
	defer s2.Close()

	s1.Lock() // pins s1's R* at the current E.
	mgr.AdvanceEndPointer()
	mgr.AdvanceEndPointer()
	s2.Lock()
	s2.Unlock()

	if got := mgr.MinRStar(); got != s1.rStar.Load() {
		t.Fatalf("expected MinRStar to track the locked (slower) session, got %d want %d", got, s1.rStar.Load())
	}
}

func TestAllocRotatesSegmentWhenFull(t *testing.T) {
	mgr := newTestManager(t, 4)
	s, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer s.Close()

	first, _, err := s.Alloc(64 * 1024)
	if err != nil {
		t.Fatalf("first Alloc failed: %v", err)
	}

	second, _, err := s.Alloc(128)
	if err != nil {
		t.Fatalf("rotating Alloc failed: %v", err)
	}
	if second.Number() == first.Number() {
		t.Fatalf("expected Alloc to rotate to a new segment once the first is full")
	}
}

func TestAllocRoundsUpToAlignment(t *testing.T) {
	mgr := newTestManager(t, 4)
	s, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer s.Close()

	segA, offA, err := s.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	segB, offB, err := s.Alloc(1)
	if err != nil {
		t.Fatalf("second Alloc failed: %v", err)
	}
	if segA.Number() != segB.Number() {
		t.Fatalf("expected both small allocs in the same segment")
	}
	if offB-offA != alignment {
		t.Fatalf("expected consecutive allocs to be %d bytes apart, got %d", alignment, offB-offA)
	}
}
