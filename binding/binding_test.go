package binding

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/borrowcell/cell"
)

// object is an extension class whose methods call back into themselves
// through the host.
type object struct {
	base *Storage[object]
	n    int
}

func (o *object) read() {}

func (o *object) incr() { o.n++ }

// reenter runs nested with the instance borrow suspended.
func (o *object) reenter(nested func(*BaseGuard[object]) error) {
	b, err := o.base.Reenter(o)
	if err != nil {
		panic(err)
	}
	_ = nested(b)
	if err := b.Release(context.Background()); err != nil {
		panic(err)
	}
}

func (o *object) incrCallsRead() {
	o.n++
	o.reenter(func(b *BaseGuard[object]) error { return b.CallShared((*object).read) })
}

func (o *object) incrCallsIncr() {
	o.n++
	o.reenter(func(b *BaseGuard[object]) error { return b.CallMut((*object).incr) })
}

func (o *object) incrCallsTwice() {
	o.n++
	o.reenter(func(b *BaseGuard[object]) error { return b.CallMut((*object).incrCallsRead) })
}

func (o *object) incrCallsTwiceMut() {
	o.n++
	o.reenter(func(b *BaseGuard[object]) error { return b.CallMut((*object).incrCallsIncr) })
}

// hostCall is a method call issued by the host, with the increment it makes.
type hostCall struct {
	name string
	call func(r *Registry, id InstanceID) error
	incr int
}

var hostCalls = []hostCall{
	{"read", func(r *Registry, id InstanceID) error { return CallShared(r, id, (*object).read) }, 0},
	{"incr", func(r *Registry, id InstanceID) error { return CallMut(r, id, (*object).incr) }, 1},
	{"incr_calls_read", func(r *Registry, id InstanceID) error { return CallMut(r, id, (*object).incrCallsRead) }, 1},
	{"incr_calls_incr", func(r *Registry, id InstanceID) error { return CallMut(r, id, (*object).incrCallsIncr) }, 2},
	{"incr_calls_twice", func(r *Registry, id InstanceID) error { return CallMut(r, id, (*object).incrCallsTwice) }, 2},
	{"incr_calls_twice_mut", func(r *Registry, id InstanceID) error { return CallMut(r, id, (*object).incrCallsTwiceMut) }, 3},
	{"read_calls_read", func(r *Registry, id InstanceID) error {
		return CallShared(r, id, func(o *object) {
			if err := CallShared(r, id, (*object).read); err != nil {
				panic(err)
			}
		})
	}, 0},
}

func hostCallsTotal() int {
	total := 0
	for _, hc := range hostCalls {
		total += hc.incr
	}
	return total
}

// newObject registers an object stored in c and wires its base.
func newObject(t *testing.T, r *Registry, c Cell[object]) InstanceID {
	t.Helper()
	s := Register(r, c)
	require.NoError(t, s.CallMut(func(o *object) { o.base = s }))
	return s.ID()
}

func value(t *testing.T, r *Registry, id InstanceID) int {
	t.Helper()
	var n int
	require.NoError(t, CallShared(r, id, func(o *object) { n = o.n }))
	return n
}

func quietRegistry() *Registry {
	return NewRegistry(WithLogger(log.New(&bytes.Buffer{})))
}

func TestLifecycle_String(t *testing.T) {
	assert.Equal(t, "alive", Alive.String())
	assert.Equal(t, "destroying", Destroying.String())
	assert.Equal(t, "Lifecycle(7)", Lifecycle(7).String())
}

func TestRegistry_Lookup(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.New(object{}))

	s, err := Lookup[object](r, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())
	assert.Equal(t, Alive, s.Lifecycle())
	assert.Equal(t, 1, r.Len())

	_, err = Lookup[int](r, id)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Lookup[object](r, id+100)
	assert.ErrorIs(t, err, ErrUnknownInstance)

	r.Reset()
	assert.Equal(t, 0, r.Len())
}

// TestCallsSerial runs every host call once on a fail-fast cell.
func TestCallsSerial(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.New(object{}))

	for _, hc := range hostCalls {
		require.NoError(t, hc.call(r, id), hc.name)
	}
	assert.Equal(t, hostCallsTotal(), value(t, r, id))

	s, err := Lookup[object](r, id)
	require.NoError(t, err)
	assert.False(t, s.IsBound())
}

// TestCallsParallel runs every host call from its own goroutine, many
// rounds interleaved, on a blocking cell. No call fails and none deadlocks.
func TestCallsParallel(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.NewBlocking(object{}))
	const rounds = 10

	var g errgroup.Group
	for i := 0; i < rounds; i++ {
		for _, hc := range hostCalls {
			g.Go(func() error { return hc.call(r, id) })
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, rounds*hostCallsTotal(), value(t, r, id))
}

// TestCallsParallelSerial runs each host call ten times in a row per
// goroutine group.
func TestCallsParallelSerial(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.NewBlocking(object{}))

	var g errgroup.Group
	for _, hc := range hostCalls {
		for i := 0; i < 10; i++ {
			g.Go(func() error { return hc.call(r, id) })
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 10*hostCallsTotal(), value(t, r, id))
}

// TestNonBlockingReborrow verifies goroutines holding a shared borrow that
// ask for an exclusive one fail instead of waiting on each other.
func TestNonBlockingReborrow(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.NewBlocking(object{}))

	start := make(chan struct{})
	var g errgroup.Group
	errs := make([]error, 2)
	for i := range errs {
		g.Go(func() error {
			<-start
			return CallShared(r, id, func(o *object) {
				errs[i] = CallMut(r, id, (*object).incr)
			})
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	for _, err := range errs {
		assert.ErrorIs(t, err, cell.ErrAlreadyBorrowed)
	}
	assert.Equal(t, 0, value(t, r, id))
}

// TestNoMutPanicOnMain verifies an exclusive call waits for a shared call
// running on another goroutine.
func TestNoMutPanicOnMain(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.NewBlocking(object{}))

	held := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return CallShared(r, id, func(*object) {
			close(held)
			time.Sleep(50 * time.Millisecond)
		})
	})

	<-held
	require.NoError(t, CallMut(r, id, (*object).incr))
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, value(t, r, id))
}

// TestDestroyWhileBound verifies a borrowed instance is leaked, not freed.
func TestDestroyWhileBound(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(WithLogger(log.New(&buf)))
	id := newObject(t, r, cell.New(object{}))

	s, err := Lookup[object](r, id)
	require.NoError(t, err)

	g, err := s.Get()
	require.NoError(t, err)

	err = r.Destroy(id)
	require.ErrorIs(t, err, ErrDestroyWhileBound)
	assert.Contains(t, buf.String(), "leaking")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, Destroying, s.Lifecycle())

	_, err = s.GetMut()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, CallShared(r, id, (*object).read), ErrDestroyed)

	g.Release()
	require.NoError(t, r.Destroy(id))
	assert.Equal(t, 0, r.Len())

	_, err = Lookup[object](r, id)
	assert.ErrorIs(t, err, ErrUnknownInstance)
	assert.ErrorIs(t, r.Destroy(id), ErrUnknownInstance)
}

// TestDestroyDuringBorrowAttempt verifies Destroy does not free an instance
// whose borrow attempt passed the lifecycle check but has not finished.
func TestDestroyDuringBorrowAttempt(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(WithLogger(log.New(&buf)))
	id := newObject(t, r, cell.New(object{}))

	s, err := Lookup[object](r, id)
	require.NoError(t, err)

	// A Get that got past the lifecycle check before Destroy ran.
	require.NoError(t, s.enter())
	require.False(t, s.IsBound())

	err = r.Destroy(id)
	require.ErrorIs(t, err, ErrDestroyWhileBound)
	assert.Contains(t, buf.String(), "leaking")
	assert.Equal(t, 1, r.Len())

	g, err := s.cell.Borrow()
	require.NoError(t, err)
	s.leave()

	require.ErrorIs(t, r.Destroy(id), ErrDestroyWhileBound)
	g.Release()
	require.NoError(t, r.Destroy(id))
	assert.Equal(t, 0, r.Len())
}

// TestReenter_WrongReference verifies only the borrowed instance can be
// suspended.
func TestReenter_WrongReference(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.New(object{}))
	s, err := Lookup[object](r, id)
	require.NoError(t, err)

	var stray object
	err = s.CallMut(func(o *object) {
		_, err := o.base.Reenter(&stray)
		assert.ErrorIs(t, err, cell.ErrInaccessibleMismatch)
	})
	require.NoError(t, err)
}

// TestBaseGuard_Release verifies Release restores the borrow once and is
// idempotent afterwards.
func TestBaseGuard_Release(t *testing.T) {
	r := quietRegistry()
	id := newObject(t, r, cell.New(object{}))
	s, err := Lookup[object](r, id)
	require.NoError(t, err)

	g, err := s.GetMut()
	require.NoError(t, err)

	b, err := s.Reenter(g.Value())
	require.NoError(t, err)
	require.NoError(t, b.CallMut((*object).incr))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Release(ctx))
	require.NoError(t, b.Release(ctx))

	assert.Equal(t, 1, g.Value().n)
	g.Release()
	assert.False(t, s.IsBound())
}
