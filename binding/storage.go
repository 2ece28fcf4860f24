package binding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kolkov/borrowcell/cell"
)

var (
	// ErrDestroyed is returned when borrowing an instance being destroyed.
	ErrDestroyed = errors.New("binding: instance is being destroyed")

	// ErrDestroyWhileBound is returned by Registry.Destroy when the instance
	// is still borrowed. The instance is leaked rather than freed.
	ErrDestroyWhileBound = errors.New("binding: instance destroyed while a borrow is active")

	// ErrUnknownInstance is returned for IDs that are not registered.
	ErrUnknownInstance = errors.New("binding: unknown instance")

	// ErrTypeMismatch is returned when an instance is looked up with the
	// wrong type.
	ErrTypeMismatch = errors.New("binding: instance has a different type")
)

// Cell is the borrow-checked cell a Storage keeps its instance in. Both
// *cell.Cell[T] and *cell.BlockingCell[T] implement it.
type Cell[T any] interface {
	Borrow() (*cell.SharedGuard[T], error)
	BorrowMut() (*cell.ExclusiveGuard[T], error)
	MakeInaccessible(ref *T) (*cell.InaccessibleGuard[T], error)
	IsCurrentlyBound() bool
	IsCurrentlyMutablyBound() bool
}

var (
	_ Cell[int] = (*cell.Cell[int])(nil)
	_ Cell[int] = (*cell.BlockingCell[int])(nil)
)

// InstanceID identifies a registered instance.
type InstanceID uint64

// Storage holds one extension instance.
type Storage[T any] struct {
	id        InstanceID
	cell      Cell[T]
	lifecycle atomicLifecycle

	// entering counts Get/GetMut calls between their lifecycle check and
	// the end of their borrow attempt.
	entering atomic.Int64
}

// NewStorage wraps c. The storage is not registered; Register assigns it an
// ID.
func NewStorage[T any](c Cell[T]) *Storage[T] {
	return &Storage[T]{cell: c}
}

// ID returns the instance ID, or 0 if the storage is not registered.
func (s *Storage[T]) ID() InstanceID {
	return s.id
}

// Lifecycle returns the current lifecycle.
func (s *Storage[T]) Lifecycle() Lifecycle {
	return s.lifecycle.Load()
}

// IsBound reports whether any borrow of the instance is live.
func (s *Storage[T]) IsBound() bool {
	return s.cell.IsCurrentlyBound()
}

// inUse reports whether a borrow is live or one may still be taken by a
// caller that passed the lifecycle check. Freeing the instance is safe only
// once Destroying is set and inUse returns false.
func (s *Storage[T]) inUse() bool {
	// entering is read before the cell: a borrow that finished entering has
	// already been taken.
	return s.entering.Load() > 0 || s.IsBound()
}

// enter admits a borrow attempt unless the instance is being destroyed. A
// nil error must be paired with leave.
func (s *Storage[T]) enter() error {
	s.entering.Add(1)
	if s.lifecycle.Load() == Destroying {
		s.entering.Add(-1)
		return fmt.Errorf("%w: instance %d", ErrDestroyed, s.id)
	}
	return nil
}

func (s *Storage[T]) leave() {
	s.entering.Add(-1)
}

// Get borrows the instance for reading.
func (s *Storage[T]) Get() (*cell.SharedGuard[T], error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	return s.cell.Borrow()
}

// GetMut borrows the instance for writing.
func (s *Storage[T]) GetMut() (*cell.ExclusiveGuard[T], error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	return s.cell.BorrowMut()
}

// CallShared runs f with a shared borrow of the instance.
func (s *Storage[T]) CallShared(f func(*T)) error {
	g, err := s.Get()
	if err != nil {
		return err
	}
	defer g.Release()
	f(g.Value())
	return nil
}

// CallMut runs f with an exclusive borrow of the instance.
func (s *Storage[T]) CallMut(f func(*T)) error {
	g, err := s.GetMut()
	if err != nil {
		return err
	}
	defer g.Release()
	f(g.Value())
	return nil
}

// Reenter suspends the exclusive borrow that produced ref so that calls
// through the returned guard may borrow the instance again. The caller must
// Release the guard before touching ref again.
func (s *Storage[T]) Reenter(ref *T) (*BaseGuard[T], error) {
	ig, err := s.cell.MakeInaccessible(ref)
	if err != nil {
		return nil, err
	}
	return &BaseGuard[T]{storage: s, ig: ig}, nil
}

// BaseGuard is held by an instance method while it lets the host call back
// into the same instance.
type BaseGuard[T any] struct {
	storage  *Storage[T]
	ig       *cell.InaccessibleGuard[T]
	released atomic.Bool
}

// CallShared calls back into the instance with a shared borrow.
func (g *BaseGuard[T]) CallShared(f func(*T)) error {
	return g.storage.CallShared(f)
}

// CallMut calls back into the instance with an exclusive borrow.
func (g *BaseGuard[T]) CallMut(f func(*T)) error {
	return g.storage.CallMut(f)
}

// Release waits until every nested borrow has ended and resumes the
// suspended exclusive borrow. Calls after the first successful one are
// no-ops.
func (g *BaseGuard[T]) Release(ctx context.Context) error {
	if g.released.Load() {
		return nil
	}
	if err := g.ig.Restore(ctx); err != nil {
		return err
	}
	g.released.Store(true)
	return nil
}

func (s *Storage[T]) setLifecycle(l Lifecycle) {
	s.lifecycle.Store(l)
}
