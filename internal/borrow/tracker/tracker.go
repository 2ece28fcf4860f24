// Package tracker keeps per-goroutine borrow bookkeeping for blocking cells.
//
// A Tracker answers two questions a blocking cell asks before deciding whether
// to wait:
//   - does the calling goroutine hold the exclusive borrow?
//   - how many shared borrows does the calling goroutine hold?
//
// A goroutine that already holds borrows on a cell must never be put to sleep
// waiting for that cell: it would wait for itself. The tracker lets the cell
// fail such reentrant conflicts immediately instead.
//
// Thread Safety: Tracker is NOT safe for concurrent use. The owning cell
// mutates it only while holding its own mutex.
package tracker

import (
	"fmt"
	"maps"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
)

// Tracker records which goroutine holds the exclusive borrow and how many
// shared borrows each goroutine holds.
//
// Invariant: the sum of the per-goroutine shared counts equals the shared
// count of the cell's borrow state. Goroutines whose count drops to zero are
// removed, so an idle cell has an empty map.
type Tracker struct {
	// mutHolder is the goroutine holding the exclusive borrow, or goid.None.
	// Meaningful only while an exclusive borrow (accessible or not) exists.
	mutHolder goid.ID

	// shared maps goroutine ID to its live shared borrow count.
	shared map[goid.ID]int

	// total is the sum of all values in shared.
	total int
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{shared: make(map[goid.ID]int)}
}

// SharedCount returns the number of shared borrows held by goroutine id.
func (t *Tracker) SharedCount(id goid.ID) int {
	return t.shared[id]
}

// TotalShared returns the number of shared borrows across all goroutines.
func (t *Tracker) TotalShared() int {
	return t.total
}

// IncrementShared records one more shared borrow held by goroutine id.
func (t *Tracker) IncrementShared(id goid.ID) {
	t.shared[id]++
	t.total++
}

// DecrementShared records the release of one shared borrow held by goroutine id.
//
// Returns an error if id holds no shared borrow; the tracker is left unchanged.
func (t *Tracker) DecrementShared(id goid.ID) error {
	n, ok := t.shared[id]
	if !ok {
		return fmt.Errorf("tracker: no shared borrow recorded for goroutine %d", id)
	}
	if n == 1 {
		delete(t.shared, id)
	} else {
		t.shared[id] = n - 1
	}
	t.total--
	return nil
}

// HoldsMut reports whether goroutine id holds the exclusive borrow.
func (t *Tracker) HoldsMut(id goid.ID) bool {
	return id != goid.None && t.mutHolder == id
}

// MutHolder returns the goroutine holding the exclusive borrow, or goid.None.
func (t *Tracker) MutHolder() goid.ID {
	return t.mutHolder
}

// ClaimMut records goroutine id as the exclusive borrow holder.
func (t *Tracker) ClaimMut(id goid.ID) {
	t.mutHolder = id
}

// ReleaseMut forgets the exclusive borrow holder.
//
// Called when the last exclusive borrow of the cell is released.
func (t *Tracker) ReleaseMut() {
	t.mutHolder = goid.None
}

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	// MutHolder is the exclusive borrow holder, or goid.None.
	MutHolder goid.ID
	// Shared maps goroutine ID to live shared borrow count.
	Shared map[goid.ID]int
	// TotalShared is the sum of all Shared values.
	TotalShared int
}

// Snapshot returns a copy of the tracker state that is safe to keep after the
// owning cell's mutex is released.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		MutHolder:   t.mutHolder,
		Shared:      maps.Clone(t.shared),
		TotalShared: t.total,
	}
}

// Idle reports whether the snapshot shows no borrow of any kind.
func (s Snapshot) Idle() bool {
	return s.MutHolder == goid.None && s.TotalShared == 0 && len(s.Shared) == 0
}
