package cb

import "testing"

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(Config{MaxThreads: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tbl
}

func TestAllocGetInitRoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	addr, err := tbl.Alloc(nil)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	tbl.Init(addr, 12345, true, false)

	cbk := tbl.Get(addr)
	if cbk == nil {
		t.Fatal("expected non-nil control block after Alloc+Init")
	}

	cacheline, active, pending := cbk.Loc()
	if cacheline != 12345 || !active || pending {
		t.Fatalf("unexpected loc: cacheline=%d active=%v pending=%v", cacheline, active, pending)
	}
}

func TestRetainReleaseTracksRefCount(t *testing.T) {
	tbl := newTestTable(t)
	addr, _ := tbl.Alloc(nil)
	cbk := tbl.Get(addr)

	for i := 0; i < 5; i++ {
		if !cbk.Retain() {
			t.Fatalf("Retain %d unexpectedly failed", i)
		}
	}
	if got := cbk.RefCount(); got != 5 {
		t.Fatalf("expected ref count 5, got %d", got)
	}

	prior := cbk.Release()
	if prior != 5 {
		t.Fatalf("expected prior ref 5, got %d", prior)
	}
	if got := cbk.RefCount(); got != 4 {
		t.Fatalf("expected ref count 4 after release, got %d", got)
	}
}

func TestRetainSaturationRollsBack(t *testing.T) {
	// MaxThreads near refMask leaves only a few slots of saturation
	// margin, so the test reaches the rollback case in a handful of
	// Retain calls instead of walking the full 21-bit range.
	tbl, err := New(Config{MaxThreads: uint32(refMask) - 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	addr, _ := tbl.Alloc(nil)
	cbk := tbl.Get(addr)

	var succeeded int
	for i := 0; i < 10; i++ {
		if !cbk.Retain() {
			break
		}
		succeeded++
	}
	if succeeded >= 10 {
		t.Fatal("expected Retain to refuse within the configured saturation margin")
	}
	if cbk.Retain() {
		t.Fatal("expected Retain to keep failing once saturated")
	}
}

func TestCasMovePreservesRefOnSuccessfulSwap(t *testing.T) {
	tbl := newTestTable(t)
	addr, _ := tbl.Alloc(nil)
	cbk := tbl.Get(addr)
	cbk.Retain()

	old := cbk.Raw()
	ref, _, active, pending := unpack(old)
	desired := pack(ref, 9999, active, pending)

	if !cbk.CasMove(old, desired) {
		t.Fatal("expected CasMove to succeed against the word we just read")
	}
	cacheline, _, _ := cbk.Loc()
	if cacheline != 9999 {
		t.Fatalf("expected relocated cacheline 9999, got %d", cacheline)
	}
	if cbk.RefCount() != ref {
		t.Fatalf("expected ref count preserved across move, got %d want %d", cbk.RefCount(), ref)
	}
}

func TestFreeAllowsReuse(t *testing.T) {
	tbl := newTestTable(t)
	addr, err := tbl.Alloc(nil)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	tbl.Free(addr)

	addr2, err := tbl.Alloc([]Address{addr})
	if err != nil {
		t.Fatalf("second Alloc failed: %v", err)
	}
	if addr2 != addr {
		t.Fatalf("expected freed address %d to be reused, got %d", addr, addr2)
	}
}

func TestTryIncActivityIsIdempotent(t *testing.T) {
	tbl := newTestTable(t)
	addr, _ := tbl.Alloc(nil)
	cbk := tbl.Get(addr)

	if !cbk.TryIncActivity() {
		t.Fatal("expected first TryIncActivity to transition 0 -> 1")
	}
	if cbk.TryIncActivity() {
		t.Fatal("expected second TryIncActivity to be a no-op")
	}

	cbk.ClearActivity()
	if !cbk.TryIncActivity() {
		t.Fatal("expected TryIncActivity to transition again after ClearActivity")
	}
}

func TestGetOrAllocGrowsZonesForRecovery(t *testing.T) {
	tbl := newTestTable(t)

	recovered := Address(ptrsPerZone + 42) // lives in zone 1, never Alloc'd
	cbk := tbl.GetOrAlloc(recovered)
	if cbk.Address() != recovered {
		t.Fatalf("expected address %d, got %d", recovered, cbk.Address())
	}
	if tbl.ZoneCount() < 2 {
		t.Fatalf("expected GetOrAlloc to grow zones up to index 1, got %d zones", tbl.ZoneCount())
	}
}
