package cell

import (
	"context"
	"sync"
	"time"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
	"github.com/kolkov/borrowcell/internal/borrow/tracker"
)

// coordinator is the goroutine-aware half of a BlockingCell: the tracker and
// the two condition variables, all under one mutex.
type coordinator struct {
	mu sync.Mutex
	tr *tracker.Tracker

	// mutReleased is broadcast when an exclusive borrow is released or its
	// state changes through MakeInaccessible/TryDrop.
	mutReleased *sync.Cond

	// allReleased is broadcast on every release.
	allReleased *sync.Cond
}

func newCoordinator() *coordinator {
	co := &coordinator{tr: tracker.New()}
	co.mutReleased = sync.NewCond(&co.mu)
	co.allReleased = sync.NewCond(&co.mu)
	return co
}

// broadcast wakes every waiter. Called with mu held.
func (co *coordinator) broadcast() {
	co.mutReleased.Broadcast()
	co.allReleased.Broadcast()
}

// sharedReleased updates the tracker after a shared release. Called with mu
// held.
func (co *coordinator) sharedReleased(owner goid.ID) {
	if err := co.tr.DecrementShared(owner); err != nil {
		panic(err)
	}
	co.allReleased.Broadcast()
}

// exclusiveReleased updates the tracker after an exclusive release. remaining
// reports whether suspended outer exclusive borrows still exist. Called with
// mu held.
func (co *coordinator) exclusiveReleased(remaining bool) {
	if !remaining {
		co.tr.ReleaseMut()
	}
	co.broadcast()
}

// watch arranges for waiters to be woken when ctx is done. The returned stop
// function must be called once the caller no longer waits.
func (co *coordinator) watch(ctx context.Context) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		co.mu.Lock()
		co.broadcast()
		co.mu.Unlock()
	})
}

// wait sleeps on cond until woken. Called with mu held. Returns ctx.Err()
// if ctx is done before or after sleeping.
func wait(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cond.Wait()
	return ctx.Err()
}

// BlockingCell guards a value with a dynamic borrow checker that blocks on
// cross-goroutine contention.
//
// A borrow that conflicts with a borrow held by another goroutine waits until
// that borrow is released. A borrow that conflicts with a borrow held by the
// calling goroutine itself fails immediately, exactly like Cell: waiting would
// never end.
//
// Reentrant calls on the goroutine holding the exclusive borrow go through
// MakeInaccessible, as with Cell. Other goroutines keep waiting until the
// exclusive borrow, suspended or not, is released.
type BlockingCell[T any] struct {
	c  *core[T]
	co *coordinator
}

// NewBlocking returns a blocking cell holding value.
func NewBlocking[T any](value T, opts ...Option) *BlockingCell[T] {
	return &BlockingCell[T]{
		c:  newCore(value, opts),
		co: newCoordinator(),
	}
}

// Borrow takes a shared borrow, waiting while another goroutine holds an
// exclusive borrow.
//
// Fails with ErrAlreadyExclusivelyBorrowed if the calling goroutine holds an
// accessible exclusive borrow.
func (b *BlockingCell[T]) Borrow() (*SharedGuard[T], error) {
	return b.borrow(context.Background(), b.c.trace(1))
}

// BorrowContext is like Borrow but gives up waiting when ctx is done,
// returning ctx.Err().
func (b *BlockingCell[T]) BorrowContext(ctx context.Context) (*SharedGuard[T], error) {
	return b.borrow(ctx, b.c.trace(1))
}

func (b *BlockingCell[T]) borrow(ctx context.Context, stack uint64) (*SharedGuard[T], error) {
	me := goid.Current()
	stop := b.co.watch(ctx)
	defer stop()

	b.co.mu.Lock()
	defer b.co.mu.Unlock()

	var start time.Time
	for b.c.isMutablyBound() && !b.co.tr.HoldsMut(me) {
		if start.IsZero() {
			start = time.Now()
		}
		if err := wait(ctx, b.co.mutReleased); err != nil {
			b.c.cfg.metrics.RecordAcquire(Shared, since(start), err)
			return nil, err
		}
	}

	err := b.c.acquireShared(acquisition{who: me, stack: stack})
	b.c.cfg.metrics.RecordAcquire(Shared, since(start), err)
	if err != nil {
		b.annotate(err)
		return nil, err
	}
	b.co.tr.IncrementShared(me)
	return &SharedGuard[T]{c: b.c, co: b.co, owner: me}, nil
}

// BorrowMut takes an exclusive borrow, waiting while other goroutines hold
// borrows.
//
// Fails with ErrAlreadyBorrowed if the calling goroutine holds a shared
// borrow or an accessible exclusive borrow.
func (b *BlockingCell[T]) BorrowMut() (*ExclusiveGuard[T], error) {
	return b.borrowMut(context.Background(), b.c.trace(1))
}

// BorrowMutContext is like BorrowMut but gives up waiting when ctx is done,
// returning ctx.Err().
func (b *BlockingCell[T]) BorrowMutContext(ctx context.Context) (*ExclusiveGuard[T], error) {
	return b.borrowMut(ctx, b.c.trace(1))
}

func (b *BlockingCell[T]) borrowMut(ctx context.Context, stack uint64) (*ExclusiveGuard[T], error) {
	me := goid.Current()
	stop := b.co.watch(ctx)
	defer stop()

	b.co.mu.Lock()
	defer b.co.mu.Unlock()

	var start time.Time
	for b.c.isBound() && b.co.tr.SharedCount(me) == 0 && !b.co.tr.HoldsMut(me) {
		if start.IsZero() {
			start = time.Now()
		}
		if err := wait(ctx, b.co.allReleased); err != nil {
			b.c.cfg.metrics.RecordAcquire(Exclusive, since(start), err)
			return nil, err
		}
	}

	depth, err := b.c.acquireMut(acquisition{who: me, stack: stack})
	b.c.cfg.metrics.RecordAcquire(Exclusive, since(start), err)
	if err != nil {
		b.annotate(err)
		return nil, err
	}
	b.co.tr.ClaimMut(me)
	return &ExclusiveGuard[T]{c: b.c, co: b.co, depth: depth}, nil
}

// MustBorrow is like Borrow but panics with the *BorrowError on conflict.
func (b *BlockingCell[T]) MustBorrow() *SharedGuard[T] {
	g, err := b.borrow(context.Background(), b.c.trace(1))
	if err != nil {
		panic(err)
	}
	return g
}

// MustBorrowMut is like BorrowMut but panics with the *BorrowError on
// conflict.
func (b *BlockingCell[T]) MustBorrowMut() *ExclusiveGuard[T] {
	g, err := b.borrowMut(context.Background(), b.c.trace(1))
	if err != nil {
		panic(err)
	}
	return g
}

// MakeInaccessible suspends the live exclusive borrow. See
// Cell.MakeInaccessible.
func (b *BlockingCell[T]) MakeInaccessible(ref *T) (*InaccessibleGuard[T], error) {
	return makeInaccessible(b.c, b.co, ref, 0)
}

// TryDrop restores the borrow suspended by g. See InaccessibleGuard.TryDrop.
func (b *BlockingCell[T]) TryDrop(g *InaccessibleGuard[T]) error {
	if g.c != b.c {
		return &BorrowError{Op: OpTryDrop, Err: ErrInaccessibleMismatch, State: b.Kind()}
	}
	return g.TryDrop()
}

// IsCurrentlyBound reports whether any borrow is live, suspended ones
// included.
func (b *BlockingCell[T]) IsCurrentlyBound() bool {
	return b.c.isBound()
}

// IsCurrentlyMutablyBound reports whether an exclusive borrow is live,
// suspended ones included.
func (b *BlockingCell[T]) IsCurrentlyMutablyBound() bool {
	return b.c.isMutablyBound()
}

// Kind reports the current borrow state.
func (b *BlockingCell[T]) Kind() Kind {
	return b.c.snapshot().kind
}

// TrackerSnapshot is a consistent view of a blocking cell's bookkeeping.
type TrackerSnapshot struct {
	Kind Kind

	// SharedCount is the number of live shared borrows.
	SharedCount int

	// PerGoroutine maps goroutine ID to its live shared borrows. Goroutines
	// without shared borrows are absent.
	PerGoroutine map[int64]int

	// MutHolder is the goroutine holding the exclusive borrow, or 0.
	MutHolder int64

	// Depth is the number of exclusive borrows, suspended ones included.
	Depth int

	// Inaccessible is the number of suspended exclusive borrows.
	Inaccessible int

	Poisoned bool
}

// Idle reports whether no borrow of any kind is recorded.
func (s TrackerSnapshot) Idle() bool {
	return s.Kind == Unused && s.SharedCount == 0 && len(s.PerGoroutine) == 0 &&
		s.MutHolder == 0 && s.Depth == 0
}

// Snapshot returns the current borrow bookkeeping.
func (b *BlockingCell[T]) Snapshot() TrackerSnapshot {
	b.co.mu.Lock()
	defer b.co.mu.Unlock()

	cs := b.c.snapshot()
	ts := b.co.tr.Snapshot()

	per := make(map[int64]int, len(ts.Shared))
	for id, n := range ts.Shared {
		per[int64(id)] = n
	}
	return TrackerSnapshot{
		Kind:         cs.kind,
		SharedCount:  cs.shared,
		PerGoroutine: per,
		MutHolder:    int64(ts.MutHolder),
		Depth:        cs.mut,
		Inaccessible: cs.inaccessible,
		Poisoned:     cs.poisoned,
	}
}

// annotate fills in the exclusive holder the tracker knows about. Called with
// co.mu held.
func (b *BlockingCell[T]) annotate(err error) {
	be, ok := err.(*BorrowError)
	if !ok || be.Holder != 0 {
		return
	}
	be.Holder = int64(b.co.tr.MutHolder())
}

func since(start time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
