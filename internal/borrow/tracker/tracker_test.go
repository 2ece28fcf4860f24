package tracker

import (
	"testing"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
)

// TestNew verifies a fresh tracker is idle.
func TestNew(t *testing.T) {
	tr := New()
	if !tr.Snapshot().Idle() {
		t.Errorf("new tracker not idle: %+v", tr.Snapshot())
	}
	if tr.HoldsMut(goid.Current()) {
		t.Error("new tracker reports an exclusive holder")
	}
}

func TestSharedCounts(t *testing.T) {
	tr := New()
	a, b := goid.ID(7), goid.ID(11)

	tr.IncrementShared(a)
	tr.IncrementShared(a)
	tr.IncrementShared(b)

	if got := tr.SharedCount(a); got != 2 {
		t.Errorf("SharedCount(a) = %d, want 2", got)
	}
	if got := tr.SharedCount(b); got != 1 {
		t.Errorf("SharedCount(b) = %d, want 1", got)
	}
	if got := tr.TotalShared(); got != 3 {
		t.Errorf("TotalShared() = %d, want 3", got)
	}

	for _, id := range []goid.ID{a, b, a} {
		if err := tr.DecrementShared(id); err != nil {
			t.Fatalf("DecrementShared(%d): %v", id, err)
		}
	}

	snap := tr.Snapshot()
	if !snap.Idle() {
		t.Errorf("tracker not idle after releases: %+v", snap)
	}
	if len(snap.Shared) != 0 {
		t.Errorf("residual shared entries: %v", snap.Shared)
	}
}

func TestDecrementUnknown(t *testing.T) {
	tr := New()
	tr.IncrementShared(1)

	if err := tr.DecrementShared(2); err == nil {
		t.Fatal("DecrementShared for unknown goroutine succeeded")
	}
	if got := tr.TotalShared(); got != 1 {
		t.Errorf("failed decrement changed total to %d", got)
	}
}

func TestMutHolder(t *testing.T) {
	tr := New()
	me := goid.Current()

	tr.ClaimMut(me)
	if !tr.HoldsMut(me) {
		t.Error("HoldsMut(me) = false after ClaimMut")
	}
	if tr.HoldsMut(me + 1) {
		t.Error("HoldsMut reports another goroutine as holder")
	}
	if tr.MutHolder() != me {
		t.Errorf("MutHolder() = %d, want %d", tr.MutHolder(), me)
	}

	tr.ReleaseMut()
	if tr.HoldsMut(me) || tr.MutHolder() != goid.None {
		t.Error("holder still recorded after ReleaseMut")
	}
	// goid.None is never reported as holding the borrow.
	if tr.HoldsMut(goid.None) {
		t.Error("HoldsMut(None) = true")
	}
}

// TestSnapshotIsCopy verifies snapshots do not alias tracker state.
func TestSnapshotIsCopy(t *testing.T) {
	tr := New()
	tr.IncrementShared(3)

	snap := tr.Snapshot()
	tr.IncrementShared(3)

	if snap.Shared[3] != 1 {
		t.Errorf("snapshot changed with tracker: %v", snap.Shared)
	}
}
