package root

import (
	"testing"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

func newTestTable(t *testing.T) (*Table, *cb.Table) {
	t.Helper()
	cbTable, err := cb.New(cb.Config{MaxThreads: 8})
	if err != nil {
		t.Fatalf("cb.New failed: %v", err)
	}
	var synced int
	tab := New(cbTable, func(level options.SyncMode) error {
		synced++
		return nil
	})
	return tab, cbTable
}

func TestSetAndGetRoundTrip(t *testing.T) {
	tab, cbTable := newTestTable(t)
	addr, err := cbTable.Alloc(nil)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	cbTable.Init(addr, 5, false, false)

	prior, err := tab.Set(0, addr, options.SyncNone)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if prior != 0 {
		t.Fatalf("expected prior address 0, got %d", prior)
	}

	got, err := tab.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != addr {
		t.Fatalf("expected %d, got %d", addr, got)
	}
}

func TestCasRootSucceedsOnlyOnExpectedValue(t *testing.T) {
	tab, cbTable := newTestTable(t)
	addr, _ := cbTable.Alloc(nil)
	cbTable.Init(addr, 1, false, false)

	ok, err := tab.CasRoot(1, 0, addr, options.SyncNone)
	if err != nil || !ok {
		t.Fatalf("expected CasRoot to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = tab.CasRoot(1, 0, addr, options.SyncNone)
	if err != nil || ok {
		t.Fatalf("expected stale CasRoot to fail, ok=%v err=%v", ok, err)
	}
}

func TestTransactionCommitReleasesWriterMutex(t *testing.T) {
	tab, cbTable := newTestTable(t)
	addr, _ := cbTable.Alloc(nil)
	cbTable.Init(addr, 2, false, false)

	if _, err := tab.StartTransaction(2); err != nil {
		t.Fatalf("StartTransaction failed: %v", err)
	}
	if err := tab.TransactionCommit(2, addr, options.SyncNone); err != nil {
		t.Fatalf("TransactionCommit failed: %v", err)
	}

	// A second transaction must be able to acquire the writer mutex
	// synchronously now that the first has committed and released it.
	if _, err := tab.StartTransaction(2); err != nil {
		t.Fatalf("second StartTransaction failed: %v", err)
	}
	if err := tab.TransactionAbort(2); err != nil {
		t.Fatalf("TransactionAbort failed: %v", err)
	}
}

func TestGetAndSetRejectOutOfRangeSlot(t *testing.T) {
	tab, _ := newTestTable(t)
	if _, err := tab.Get(SlotCount); err == nil {
		t.Fatal("expected out-of-range Get to fail")
	}
	if _, err := tab.Set(-1, 0, options.SyncNone); err == nil {
		t.Fatal("expected out-of-range Set to fail")
	}
}
