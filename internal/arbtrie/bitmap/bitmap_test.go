package bitmap

import "testing"

func TestSetFirstUnsetFillsInOrder(t *testing.T) {
	b := New(200)

	for i := uint64(0); i < 200; i++ {
		idx, ok := b.SetFirstUnset()
		if !ok {
			t.Fatalf("SetFirstUnset failed at iteration %d", i)
		}
		if idx != i {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}

	if _, ok := b.SetFirstUnset(); ok {
		t.Fatal("expected bitmap to be full")
	}
	if b.Count() != 200 {
		t.Fatalf("expected count 200, got %d", b.Count())
	}
}

func TestResetReopensSlot(t *testing.T) {
	b := New(128)

	for i := uint64(0); i < 128; i++ {
		b.Set(i)
	}
	if _, ok := b.FindFirstUnset(); ok {
		t.Fatal("expected full bitmap")
	}

	b.Reset(64)
	idx, ok := b.FindFirstUnset()
	if !ok || idx != 64 {
		t.Fatalf("expected to find freed index 64, got idx=%d ok=%v", idx, ok)
	}
}

func TestCapacityBoundary49Vs50Bits(t *testing.T) {
	// A bitmap sized for exactly 50 bits must accept indices 0..49 and
	// silently refuse 50 and beyond, even though the backing word has 64
	// physical bit positions.
	b := New(50)

	for i := uint64(0); i < 50; i++ {
		if _, ok := b.SetFirstUnset(); !ok {
			t.Fatalf("expected to be able to set bit %d of 50", i)
		}
	}
	if b.Test(49) != true {
		t.Fatal("expected bit 49 to be set")
	}
	if b.Test(50) {
		t.Fatal("bit 50 is out of range and must read as unset")
	}

	// The 49-bit case: capacity 49 must reject probing index 49.
	b49 := New(49)
	for i := uint64(0); i < 49; i++ {
		b49.Set(i)
	}
	if _, ok := b49.FindFirstUnset(); ok {
		t.Fatal("bitmap with capacity 49 and 49 bits set must report full")
	}
	b49.Set(49) // beyond capacity, must be a no-op
	if b49.Test(49) {
		t.Fatal("Set beyond capacity must not take effect")
	}
}

func TestValidateDetectsSummaryCorruption(t *testing.T) {
	b := New(10_000)

	for i := uint64(0); i < 10_000; i += 7 {
		b.Set(i)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected healthy bitmap, got %v", err)
	}

	// Corrupt a level-1 summary word directly, bypassing Set/Reset.
	b.levels[1][0] ^= 1

	err := b.Validate()
	if err == nil {
		t.Fatal("expected Validate to detect the corrupted summary bit")
	}
}

func TestFindFirstUnsetAcrossManyWords(t *testing.T) {
	b := New(1 << 20)

	for i := uint64(0); i < 1<<20; i++ {
		b.Set(i)
	}
	b.Reset(1 << 19)

	idx, ok := b.FindFirstUnset()
	if !ok || idx != 1<<19 {
		t.Fatalf("expected idx=%d, got idx=%d ok=%v", 1<<19, idx, ok)
	}
}
