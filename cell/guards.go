package cell

import (
	"fmt"
	"sync/atomic"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
)

// SharedGuard is a live shared borrow. No accessible exclusive borrow of the
// same cell exists while it is held.
//
// Release it exactly when the borrow ends, typically with defer. Guards must
// not be copied.
type SharedGuard[T any] struct {
	c  *core[T]
	co *coordinator

	// owner is the goroutine the borrow is accounted to in the tracker.
	owner    goid.ID
	released atomic.Bool
}

// Value returns the borrowed value. The pointer is for reading only and must
// not be retained after Release.
//
// Panics with ErrReleased after Release.
func (g *SharedGuard[T]) Value() *T {
	if g.released.Load() {
		panic(ErrReleased)
	}
	return &g.c.value
}

// Get returns a copy of the borrowed value.
func (g *SharedGuard[T]) Get() T {
	return *g.Value()
}

// Release ends the borrow. Calls after the first are no-ops.
//
// Panics if the cell refuses the release (a poisoned cell does). The guard
// then stays live, as with ExclusiveGuard.Release.
func (g *SharedGuard[T]) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}

	if g.co != nil {
		g.co.mu.Lock()
		defer g.co.mu.Unlock()
	}
	if err := g.c.releaseShared(); err != nil {
		g.released.Store(false)
		panic(err)
	}
	if g.co != nil {
		g.co.sharedReleased(g.owner)
	}
	g.c.cfg.metrics.RecordRelease(Shared)
}

// ExclusiveGuard is a live exclusive borrow.
//
// While it is the current borrow, no other borrow of the cell exists. It stops
// being current while suspended by MakeInaccessible and while a nested borrow
// taken during the suspension is live; using Value in that window panics with
// ErrNotCurrent.
type ExclusiveGuard[T any] struct {
	c  *core[T]
	co *coordinator

	// depth is the exclusive count right after this borrow was taken. The
	// guard is current iff the cell has an accessible exclusive borrow at
	// exactly this depth.
	depth    int
	released atomic.Bool
}

// Value returns the borrowed value for reading and writing. The pointer must
// not be retained after Release, and must be handed to MakeInaccessible
// before any reentrant call that may borrow the same cell.
//
// Panics with ErrReleased after Release, and with ErrNotCurrent while the
// guard is suspended.
func (g *ExclusiveGuard[T]) Value() *T {
	if g.released.Load() {
		panic(ErrReleased)
	}
	if !g.c.checkCurrent(g.depth) {
		panic(ErrNotCurrent)
	}
	return &g.c.value
}

// Set replaces the borrowed value.
func (g *ExclusiveGuard[T]) Set(v T) {
	*g.Value() = v
}

// MakeInaccessible suspends this borrow so a reentrant call can borrow the
// cell again. It is equivalent to calling MakeInaccessible on the cell with
// g.Value().
func (g *ExclusiveGuard[T]) MakeInaccessible() (*InaccessibleGuard[T], error) {
	if g.released.Load() {
		panic(ErrReleased)
	}
	return makeInaccessible(g.c, g.co, &g.c.value, g.depth)
}

// Release ends the borrow. Calls after the first are no-ops.
//
// Panics if the borrow is still suspended: the InaccessibleGuard must be
// restored first. A refused release changes nothing and the guard stays live.
func (g *ExclusiveGuard[T]) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}

	if g.co != nil {
		g.co.mu.Lock()
		defer g.co.mu.Unlock()
	}
	remaining, err := g.c.releaseMut(g.depth)
	if err != nil {
		g.released.Store(false)
		panic(err)
	}
	if g.co != nil {
		g.co.exclusiveReleased(remaining)
	}
	g.c.cfg.metrics.RecordRelease(Exclusive)
}

// InaccessibleGuard holds a suspended exclusive borrow.
//
// While it exists the cell may be borrowed again (shared or exclusive) by
// reentrant calls. TryDrop or Restore resumes the suspended borrow once every
// nested borrow has been released.
type InaccessibleGuard[T any] struct {
	c  *core[T]
	co *coordinator

	// level is the inaccessible count created by this suspension.
	level    int
	restored atomic.Bool
}

// makeInaccessible suspends the accessible exclusive borrow of c. depth, if
// non-zero, must match the exclusive count of that borrow. With a coordinator
// only the goroutine holding the exclusive borrow may suspend it.
func makeInaccessible[T any](c *core[T], co *coordinator, ref *T, depth int) (*InaccessibleGuard[T], error) {
	if co != nil {
		me := goid.Current()
		co.mu.Lock()
		defer co.mu.Unlock()

		if holder := co.tr.MutHolder(); holder != goid.None && holder != me {
			err := &BorrowError{
				Op:     OpMakeInaccessible,
				Err:    fmt.Errorf("%w: exclusive borrow belongs to another goroutine", ErrInaccessibleMismatch),
				State:  c.snapshot().kind,
				Holder: int64(holder),
			}
			c.cfg.metrics.RecordAcquire(Inaccessible, 0, err)
			return nil, err
		}
	}

	level, err := c.suspend(ref, depth)
	c.cfg.metrics.RecordAcquire(Inaccessible, 0, err)
	if err != nil {
		return nil, err
	}
	if co != nil {
		co.broadcast()
	}
	return &InaccessibleGuard[T]{c: c, co: co, level: level}, nil
}

// TryDrop resumes the suspended exclusive borrow without blocking.
//
// Returns an error matching ErrNotYetRestorable while a nested borrow is
// still live; the guard stays valid and TryDrop may be called again. Returns
// nil if the borrow was already restored.
func (g *InaccessibleGuard[T]) TryDrop() error {
	if g.restored.Load() {
		return nil
	}

	if g.co != nil {
		g.co.mu.Lock()
		defer g.co.mu.Unlock()
	}
	if err := g.c.restore(g.level); err != nil {
		return err
	}
	g.restored.Store(true)
	if g.co != nil {
		g.co.broadcast()
	}
	g.c.cfg.metrics.RecordRelease(Inaccessible)
	return nil
}

// Restored reports whether the suspended borrow has been resumed.
func (g *InaccessibleGuard[T]) Restored() bool {
	return g.restored.Load()
}
