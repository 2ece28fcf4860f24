package binding

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// instance is the type-erased view of a Storage the registry needs.
type instance interface {
	IsBound() bool
	inUse() bool
	Lifecycle() Lifecycle
	setLifecycle(Lifecycle)
}

// Registry maps instance IDs to storages, standing in for the host's object
// database.
//
// Thread Safety: All methods are safe for concurrent calls.
type Registry struct {
	// instances maps InstanceID to *Storage[T] for the T it was registered
	// with. Entries are added once and removed by Destroy.
	instances sync.Map

	next   atomic.Uint64
	count  atomic.Int64
	logger *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report refused destructions.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "borrowcell",
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores c under a fresh ID and returns its storage.
func Register[T any](r *Registry, c Cell[T]) *Storage[T] {
	s := NewStorage(c)
	s.id = InstanceID(r.next.Add(1))
	r.instances.Store(s.id, s)
	r.count.Add(1)
	return s
}

// Lookup returns the storage registered under id.
func Lookup[T any](r *Registry, id InstanceID) (*Storage[T], error) {
	v, ok := r.instances.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	s, ok := v.(*Storage[T])
	if !ok {
		return nil, fmt.Errorf("%w: %d is %T", ErrTypeMismatch, id, v)
	}
	return s, nil
}

// CallShared looks up id and runs f with a shared borrow of the instance,
// the way the host invokes a read-only method.
func CallShared[T any](r *Registry, id InstanceID, f func(*T)) error {
	s, err := Lookup[T](r, id)
	if err != nil {
		return err
	}
	return s.CallShared(f)
}

// CallMut looks up id and runs f with an exclusive borrow of the instance,
// the way the host invokes a mutating method.
func CallMut[T any](r *Registry, id InstanceID, f func(*T)) error {
	s, err := Lookup[T](r, id)
	if err != nil {
		return err
	}
	return s.CallMut(f)
}

// Destroy removes the instance registered under id.
//
// If the instance is still borrowed, or a borrow attempt that started
// before Destroy is still in progress, it is not removed: it is marked
// Destroying so no new borrow starts, the problem is logged, and
// ErrDestroyWhileBound is returned. Calling Destroy again once the borrows
// have ended removes it.
func (r *Registry) Destroy(id InstanceID) error {
	v, ok := r.instances.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	inst := v.(instance)
	inst.setLifecycle(Destroying)

	if inst.inUse() {
		r.logger.Error("destroyed an instance while a borrow was active; leaking it",
			"instance", uint64(id))
		return fmt.Errorf("%w: %d", ErrDestroyWhileBound, id)
	}

	if _, loaded := r.instances.LoadAndDelete(id); loaded {
		r.count.Add(-1)
	}
	return nil
}

// Len returns the number of registered instances, leaked ones included.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Reset drops every instance without checking borrows.
//
// Thread Safety: NOT safe for concurrent access. Used between test cases.
func (r *Registry) Reset() {
	r.instances.Range(func(key, _ any) bool {
		r.instances.Delete(key)
		return true
	})
	r.count.Store(0)
}
