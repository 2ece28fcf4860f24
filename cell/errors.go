package cell

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kolkov/borrowcell/internal/borrow/goid"
	"github.com/kolkov/borrowcell/internal/borrow/state"
)

// Borrow conflict kinds. Every error returned by a cell matches exactly one of
// these with errors.Is.
var (
	// ErrAlreadyExclusivelyBorrowed is returned when a shared borrow is
	// requested while an accessible exclusive borrow is live.
	ErrAlreadyExclusivelyBorrowed = state.ErrAlreadyExclusivelyBorrowed

	// ErrAlreadyBorrowed is returned when an exclusive borrow is requested
	// while a shared or accessible exclusive borrow is live.
	ErrAlreadyBorrowed = state.ErrAlreadyBorrowed

	// ErrInaccessibleMismatch is returned by MakeInaccessible when there is no
	// accessible exclusive borrow, when shared borrows exist, or when the
	// reference does not belong to the live exclusive borrow.
	ErrInaccessibleMismatch = state.ErrInaccessibleMismatch

	// ErrNotYetRestorable is returned by TryDrop while a nested borrow is
	// still live. It is the one retry-worthy error: retry, or use Restore.
	ErrNotYetRestorable = state.ErrNotYetRestorable

	// ErrNotBorrowed is returned when releasing or restoring a borrow that
	// does not exist.
	ErrNotBorrowed = state.ErrNotBorrowed

	// ErrStillInaccessible is the panic value when an exclusive guard is
	// released while its borrow is suspended.
	ErrStillInaccessible = state.ErrStillInaccessible

	// ErrPoisoned is returned once the cell's borrow state became unreliable.
	ErrPoisoned = state.ErrPoisoned

	// ErrReleased is the panic value when a released guard is used.
	ErrReleased = errors.New("borrowcell: guard already released")

	// ErrNotCurrent is the panic value when an exclusive guard is used while
	// it is suspended by MakeInaccessible or shadowed by a nested borrow.
	ErrNotCurrent = errors.New("borrowcell: exclusive guard is not the current borrow")
)

// Kind is the conceptual borrow state of a cell.
type Kind = state.Kind

// Borrow kinds reported by Kind methods and snapshots.
const (
	Unused       = state.Unused
	Shared       = state.Shared
	Exclusive    = state.Exclusive
	Inaccessible = state.Inaccessible
)

// Operation names used in BorrowError.Op.
const (
	OpBorrow           = "borrow"
	OpBorrowMut        = "borrow_mut"
	OpMakeInaccessible = "make_inaccessible"
	OpTryDrop          = "try_drop"
)

// BorrowError describes a refused borrow operation.
//
// Err is the underlying state error; errors.Is(err, ErrAlreadyBorrowed) and
// friends see through a BorrowError.
type BorrowError struct {
	// Op is the refused operation (OpBorrow, OpBorrowMut, ...).
	Op string

	// Err is the conflict kind, wrapping one of the package sentinels.
	Err error

	// State is the borrow state observed when the operation was refused.
	State Kind

	// Holder is the goroutine holding the conflicting exclusive borrow, or 0
	// if unknown. Blocking cells always know it; failing cells only with
	// stack tracking enabled.
	Holder int64

	// Stack is the acquisition stack of the conflicting borrow. Empty unless
	// the cell was created with WithStackTracking.
	Stack string
}

// Error implements error.
func (e *BorrowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "borrowcell: %s: %v (state %s", e.Op, e.Err, e.State)
	if e.Holder != int64(goid.None) {
		fmt.Fprintf(&b, ", held by goroutine %d", e.Holder)
	}
	b.WriteString(")")
	if e.Stack != "" {
		b.WriteString("\nconflicting borrow taken at:\n")
		b.WriteString(e.Stack)
	}
	return b.String()
}

// Unwrap returns the conflict kind.
func (e *BorrowError) Unwrap() error {
	return e.Err
}
