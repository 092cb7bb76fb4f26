package trie

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/root"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/seg"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// newTestSession wires a full session/allocator/control-block stack backed
// by a temp-dir block file, matching the harness session_test.go uses.
func newTestSession(t *testing.T) (*session.Session, func()) {
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

	cbTable, err := cb.New(cb.Config{MaxThreads: 4})
	if err != nil {
		t.Fatalf("cb.New failed: %v", err)
	}

	alloc, err := seg.NewAllocator(seg.Config{
		BlockFile:   bf,
		CBTable:     cbTable,
		SegmentSize: 64 * 1024,
		Sync:        &options.SyncOptions{SyncMode: options.SyncNone},
		Compaction:  &options.CompactionOptions{Interval: time.Hour},
		Cache:       &options.CacheOptions{MaxPinnedCacheSizeMB: 1, ReadCacheWindow: time.Hour},
	})
	if err != nil {
		t.Fatalf("seg.NewAllocator failed: %v", err)
	}

	mgr, err := session.NewManager(session.Config{
		MaxThreads: 4,
		Allocator:  alloc,
		CBTable:    cbTable,
		Cache:      &options.CacheOptions{MaxCacheableObjectSize: 4096, EnableReadCache: true},
	})
	if err != nil {
		t.Fatalf("session.NewManager failed: %v", err)
	}

	s, err := mgr.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	return s, func() {
		s.Close()
		bf.Close()
	}
}

func newTestEngine(t *testing.T, s *session.Session) *Engine {
	t.Helper()
	rt := root.New(s.CBTable(), nil)
	return NewEngine(rt, options.SyncNone)
}

func inlineValue(s string) node.Value {
	return node.Value{Type: node.ValueTypeInline, Inline: []byte(s)}
}

func TestEngineUpsertAndGetRoundTrip(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	entries := map[string]string{
		"alice": "1",
		"bob":   "2",
		"carol": "3",
	}
	for k, v := range entries {
		if err := e.Upsert(0, []byte(k), inlineValue(v), s); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", k, err)
		}
	}

	for k, v := range entries {
		got, found, err := e.Get(0, []byte(k), s)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", k, err)
		}
		if !found {
			t.Fatalf("Get(%q): expected found", k)
		}
		if string(got.Inline) != v {
			t.Fatalf("Get(%q) = %q, want %q", k, got.Inline, v)
		}
	}

	if _, found, err := e.Get(0, []byte("dave"), s); err != nil {
		t.Fatalf("Get(dave) failed: %v", err)
	} else if found {
		t.Fatal("expected dave to be absent")
	}
}

func TestEngineUpsertTriggersBinaryToBranchRefactor(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	// The keys are "%03d-key" for i below BinaryNodeMaxKeys+10, so they
	// start with only the bytes '0', '1' and '2'. Once the binary leaf at
	// slot 0's root overflows, RefactorIfNeeded replaces it with a setlist
	// node (three distinct first bytes is far below FullNodeThreshold) and
	// redistribute re-inserts every entry under its first byte's branch.
	const n = node.BinaryNodeMaxKeys + 10
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("%03d-key", i)
		keys = append(keys, k)
		if err := e.Upsert(0, []byte(k), inlineValue(k), s); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", k, err)
		}
	}

	for _, k := range keys {
		got, found, err := e.Get(0, []byte(k), s)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", k, err)
		}
		if !found || string(got.Inline) != k {
			t.Fatalf("Get(%q) = %+v found=%v, want %q", k, got, found, k)
		}
	}
}

func TestEngineRemoveCollapsesEmptiedNodes(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	keys := []string{"aa", "ab", "ba"}
	for _, k := range keys {
		if err := e.Upsert(0, []byte(k), inlineValue(k), s); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", k, err)
		}
	}

	for _, k := range keys {
		removed, err := e.Remove(0, []byte(k), s)
		if err != nil {
			t.Fatalf("Remove(%q) failed: %v", k, err)
		}
		if !removed {
			t.Fatalf("Remove(%q): expected removed", k)
		}
	}

	addr, err := e.roots.Get(0)
	if err != nil {
		t.Fatalf("roots.Get failed: %v", err)
	}
	if addr != 0 {
		t.Fatalf("expected slot to collapse to an empty tree, got address %d", addr)
	}

	if removed, err := e.Remove(0, []byte("aa"), s); err != nil {
		t.Fatalf("Remove on empty tree failed: %v", err)
	} else if removed {
		t.Fatal("expected removing an absent key from an empty tree to report false")
	}
}

func TestEngineRemoveMissingKeyReportsFalse(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	if err := e.Upsert(0, []byte("present"), inlineValue("1"), s); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	removed, err := e.Remove(0, []byte("absent"), s)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed {
		t.Fatal("expected Remove of an absent key to report false")
	}

	if _, found, err := e.Get(0, []byte("present"), s); err != nil || !found {
		t.Fatalf("expected present key to remain reachable, found=%v err=%v", found, err)
	}
}

func TestCursorWalksKeysInOrder(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	keys := []string{"banana", "apple", "cherry", "apricot", "blueberry"}
	for _, k := range keys {
		if err := e.Upsert(0, []byte(k), inlineValue(k), s); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", k, err)
		}
	}

	c, err := e.NewCursor(0, s)
	if err != nil {
		t.Fatalf("NewCursor failed: %v", err)
	}

	var got []string
	ok, err := c.Seek(nil)
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	for ok {
		got = append(got, string(c.Key()))
		ok, err = c.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}

	want := append([]string(nil), keys...)
	sortStrings(want)
	if !equalStrings(got, want) {
		t.Fatalf("cursor forward walk = %v, want %v", got, want)
	}

	// Walk backward starting from the largest key and confirm it's the
	// exact reverse of the forward walk.
	last, err := e.NewCursor(0, s)
	if err != nil {
		t.Fatalf("NewCursor failed: %v", err)
	}
	ok, err = last.Seek([]byte(want[len(want)-1]))
	if err != nil {
		t.Fatalf("Seek to last key failed: %v", err)
	}
	if !ok || string(last.Key()) != want[len(want)-1] {
		t.Fatalf("Seek(%q) landed on %q ok=%v", want[len(want)-1], last.Key(), ok)
	}

	var gotRev []string
	for ok {
		gotRev = append(gotRev, string(last.Key()))
		ok, err = last.Prev()
		if err != nil {
			t.Fatalf("Prev failed: %v", err)
		}
	}
	for i, j := 0, len(gotRev)-1; i < j; i, j = i+1, j-1 {
		gotRev[i], gotRev[j] = gotRev[j], gotRev[i]
	}
	if !equalStrings(gotRev, want) {
		t.Fatalf("cursor backward walk = %v, want %v", gotRev, want)
	}
}

func TestCursorSeekLowerBound(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	e := newTestEngine(t, s)

	for _, k := range []string{"b", "d", "f"} {
		if err := e.Upsert(0, []byte(k), inlineValue(k), s); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", k, err)
		}
	}

	c, err := e.NewCursor(0, s)
	if err != nil {
		t.Fatalf("NewCursor failed: %v", err)
	}

	ok, err := c.Seek([]byte("c"))
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if !ok || string(c.Key()) != "d" {
		t.Fatalf("Seek(c) landed on %q ok=%v, want d", c.Key(), ok)
	}

	ok, err = c.Seek([]byte("z"))
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if ok {
		t.Fatalf("Seek(z) should find nothing past f, got %q", c.Key())
	}
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && bytes.Compare([]byte(ss[j-1]), []byte(ss[j])) > 0; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
