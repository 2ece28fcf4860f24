package cell

// Cell guards a value with a dynamic borrow checker that fails fast.
//
// Any number of shared borrows, or one exclusive borrow, may be live at a
// time. A conflicting request returns a *BorrowError immediately. An
// exclusive borrow can be suspended with MakeInaccessible so that reentrant
// code (a callback that comes back into the owner of the cell) may borrow it
// again.
//
// A Cell is safe for concurrent use, but it never waits: two goroutines that
// want conflicting borrows simply see an error. Use BlockingCell when
// goroutines should wait for each other instead.
type Cell[T any] struct {
	c *core[T]
}

// New returns a cell holding value.
func New[T any](value T, opts ...Option) *Cell[T] {
	return &Cell[T]{c: newCore(value, opts)}
}

// Borrow takes a shared borrow.
//
// Fails with ErrAlreadyExclusivelyBorrowed while an accessible exclusive
// borrow is live. A suspended exclusive borrow does not prevent it.
func (cl *Cell[T]) Borrow() (*SharedGuard[T], error) {
	return cl.borrow(cl.c.trace(1))
}

func (cl *Cell[T]) borrow(stack uint64) (*SharedGuard[T], error) {
	err := cl.c.acquireShared(acquisition{who: cl.c.who(), stack: stack})
	cl.c.cfg.metrics.RecordAcquire(Shared, 0, err)
	if err != nil {
		return nil, err
	}
	return &SharedGuard[T]{c: cl.c}, nil
}

// BorrowMut takes an exclusive borrow.
//
// Fails with ErrAlreadyBorrowed while any shared or accessible exclusive
// borrow is live.
func (cl *Cell[T]) BorrowMut() (*ExclusiveGuard[T], error) {
	return cl.borrowMut(cl.c.trace(1))
}

func (cl *Cell[T]) borrowMut(stack uint64) (*ExclusiveGuard[T], error) {
	depth, err := cl.c.acquireMut(acquisition{who: cl.c.who(), stack: stack})
	cl.c.cfg.metrics.RecordAcquire(Exclusive, 0, err)
	if err != nil {
		return nil, err
	}
	return &ExclusiveGuard[T]{c: cl.c, depth: depth}, nil
}

// MustBorrow is like Borrow but panics with the *BorrowError on conflict.
func (cl *Cell[T]) MustBorrow() *SharedGuard[T] {
	g, err := cl.borrow(cl.c.trace(1))
	if err != nil {
		panic(err)
	}
	return g
}

// MustBorrowMut is like BorrowMut but panics with the *BorrowError on
// conflict.
func (cl *Cell[T]) MustBorrowMut() *ExclusiveGuard[T] {
	g, err := cl.borrowMut(cl.c.trace(1))
	if err != nil {
		panic(err)
	}
	return g
}

// MakeInaccessible suspends the live exclusive borrow so the cell can be
// borrowed again while the returned guard exists. ref must be the pointer
// obtained from that borrow's Value.
//
// Fails with ErrInaccessibleMismatch if ref belongs to another cell, if no
// accessible exclusive borrow exists, or if shared borrows exist.
func (cl *Cell[T]) MakeInaccessible(ref *T) (*InaccessibleGuard[T], error) {
	return makeInaccessible(cl.c, nil, ref, 0)
}

// TryDrop restores the borrow suspended by g. See InaccessibleGuard.TryDrop.
func (cl *Cell[T]) TryDrop(g *InaccessibleGuard[T]) error {
	if g.c != cl.c {
		return &BorrowError{Op: OpTryDrop, Err: ErrInaccessibleMismatch, State: cl.Kind()}
	}
	return g.TryDrop()
}

// IsCurrentlyBound reports whether any borrow is live, suspended ones
// included.
func (cl *Cell[T]) IsCurrentlyBound() bool {
	return cl.c.isBound()
}

// IsCurrentlyMutablyBound reports whether an exclusive borrow is live,
// suspended ones included.
func (cl *Cell[T]) IsCurrentlyMutablyBound() bool {
	return cl.c.isMutablyBound()
}

// Kind reports the current borrow state.
func (cl *Cell[T]) Kind() Kind {
	return cl.c.snapshot().kind
}

// SharedCount returns the number of live shared borrows.
func (cl *Cell[T]) SharedCount() int {
	return cl.c.snapshot().shared
}

// Depth returns the number of live exclusive borrows, suspended ones
// included.
func (cl *Cell[T]) Depth() int {
	return cl.c.snapshot().mut
}

// Poisoned reports whether the borrow state became unreliable. A poisoned
// cell refuses every further borrow.
func (cl *Cell[T]) Poisoned() bool {
	return cl.c.snapshot().poisoned
}
