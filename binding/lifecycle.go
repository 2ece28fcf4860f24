package binding

import (
	"fmt"
	"sync/atomic"
)

// Lifecycle is the liveness of a stored instance.
type Lifecycle int32

const (
	// Alive means the instance can be borrowed.
	Alive Lifecycle = iota
	// Destroying means the host asked to destroy the instance. New borrows
	// are refused; live ones finish normally.
	Destroying
)

// String returns the lifecycle name.
func (l Lifecycle) String() string {
	switch l {
	case Alive:
		return "alive"
	case Destroying:
		return "destroying"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int32(l))
	}
}

// atomicLifecycle is a Lifecycle readable without locks.
type atomicLifecycle struct {
	v atomic.Int32
}

func (a *atomicLifecycle) Load() Lifecycle {
	return Lifecycle(a.v.Load())
}

func (a *atomicLifecycle) Store(l Lifecycle) {
	a.v.Store(int32(l))
}
