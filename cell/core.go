package cell

import (
	"fmt"
	"sync"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
	"github.com/kolkov/borrowcell/internal/borrow/state"
)

// acquisition records who took a borrow and where. Zero unless stack
// tracking is enabled (blocking cells always know the goroutine).
type acquisition struct {
	who   goid.ID
	stack uint64
}

// core owns the wrapped value and its borrow state. It implements the
// non-blocking transitions shared by both cell variants.
//
// A core is allocated once by New or NewBlocking and never moved: guards keep
// a pointer to it and hand out &core.value.
//
// mu serializes state transitions. Blocking cells additionally hold their
// coordinator mutex around every call into the core (lock order:
// coordinator, then core).
type core[T any] struct {
	mu    sync.Mutex
	st    state.State
	value T
	cfg   config

	lastShared acquisition
	lastMut    acquisition
}

func newCore[T any](value T, opts []Option) *core[T] {
	return &core[T]{
		value: value,
		cfg:   newConfig(opts),
	}
}

// trace captures the stack above the public entry point when tracking is on.
// skip counts frames above trace's caller.
func (c *core[T]) trace(skip int) uint64 {
	if !c.cfg.trackStacks {
		return 0
	}
	return c.cfg.depot.Capture(skip + 1)
}

// who returns the calling goroutine when tracking is on, goid.None otherwise.
func (c *core[T]) who() goid.ID {
	if !c.cfg.trackStacks {
		return goid.None
	}
	return goid.Current()
}

func (c *core[T]) acquireShared(a acquisition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.st.IncrementShared(); err != nil {
		return c.conflict(OpBorrow, err, c.lastMut)
	}
	c.lastShared = a
	return nil
}

// acquireMut returns the exclusive depth of the new borrow: the exclusive
// count right after it was taken.
func (c *core[T]) acquireMut(a acquisition) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	depth, err := c.st.IncrementMut()
	if err != nil {
		blocker := c.lastMut
		if c.st.SharedCount() > 0 {
			blocker = c.lastShared
		}
		return 0, c.conflict(OpBorrowMut, err, blocker)
	}
	c.lastMut = a
	return depth, nil
}

func (c *core[T]) releaseShared() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.st.DecrementShared()
	return err
}

// releaseMut ends the exclusive borrow taken at depth and reports whether
// exclusive borrows (suspended outer ones) remain.
//
// Only the accessible borrow may be released. A suspended one is refused with
// ErrStillInaccessible and the state is left unchanged, even while a nested
// exclusive borrow keeps the counters looking releasable.
func (c *core[T]) releaseMut(depth int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Suspending the borrow at depth d creates inaccessible level d.
	if c.st.InaccessibleCount() >= depth {
		return false, fmt.Errorf("%w: borrow at depth %d is suspended (%d exclusive borrows live)",
			ErrStillInaccessible, depth, c.st.MutCount())
	}
	n, err := c.st.DecrementMut()
	return n > 0, err
}

// suspend makes the accessible exclusive borrow inaccessible. ref must be the
// pointer handed out by that borrow, and depth (when non-zero) its exclusive
// count. Returns the inaccessible level created.
func (c *core[T]) suspend(ref *T, depth int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if depth != 0 && (!c.st.HasAccessible() || c.st.MutCount() != depth) {
		return 0, c.conflict(OpMakeInaccessible,
			fmt.Errorf("%w: guard is not the current exclusive borrow", ErrInaccessibleMismatch),
			c.lastMut)
	}
	if ref != &c.value {
		return 0, c.conflict(OpMakeInaccessible,
			fmt.Errorf("%w: reference does not belong to this cell", ErrInaccessibleMismatch),
			acquisition{})
	}
	if c.st.SharedCount() > 0 {
		return 0, c.conflict(OpMakeInaccessible,
			fmt.Errorf("%w: shared borrows exist", ErrInaccessibleMismatch),
			c.lastShared)
	}
	level, err := c.st.SetInaccessible()
	if err != nil {
		return 0, c.conflict(OpMakeInaccessible, err, acquisition{})
	}
	return level, nil
}

// restore undoes the suspension that created inaccessible level level.
//
// Levels are restored innermost first; an outer level reports
// ErrNotYetRestorable while an inner one is still suspended.
func (c *core[T]) restore(level int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.st.InaccessibleCount()
	switch {
	case level < current:
		return c.conflict(OpTryDrop,
			fmt.Errorf("%w: nested borrow is still inaccessible", ErrNotYetRestorable),
			c.lastMut)
	case level > current:
		return c.conflict(OpTryDrop, ErrNotBorrowed, acquisition{})
	}

	if _, err := c.st.UnsetInaccessible(); err != nil {
		blocker := c.lastMut
		if c.st.SharedCount() > 0 {
			blocker = c.lastShared
		}
		return c.conflict(OpTryDrop, err, blocker)
	}
	return nil
}

// checkCurrent reports whether the exclusive borrow at depth is the
// accessible one.
func (c *core[T]) checkCurrent(depth int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.st.HasAccessible() && c.st.MutCount() == depth
}

func (c *core[T]) isBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.st.IsBound()
}

func (c *core[T]) isMutablyBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.st.IsMutablyBound()
}

// coreSnapshot is a copy of the counters taken under the core mutex.
type coreSnapshot struct {
	kind         Kind
	shared       int
	mut          int
	inaccessible int
	poisoned     bool
}

func (c *core[T]) snapshot() coreSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return coreSnapshot{
		kind:         c.st.Kind(),
		shared:       c.st.SharedCount(),
		mut:          c.st.MutCount(),
		inaccessible: c.st.InaccessibleCount(),
		poisoned:     c.st.IsPoisoned(),
	}
}

// conflict wraps a refused transition. Called with c.mu held.
func (c *core[T]) conflict(op string, err error, blocker acquisition) *BorrowError {
	be := &BorrowError{
		Op:     op,
		Err:    err,
		State:  c.st.Kind(),
		Holder: int64(blocker.who),
	}
	if blocker.stack != 0 {
		be.Stack = c.cfg.depot.Lookup(blocker.stack).Format()
	}
	return be
}
