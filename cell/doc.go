// Package cell provides a dynamic borrow checker for values that foreign code
// may re-enter.
//
// A cell wraps a value that is owned by extension code but may be called back
// into by a host runtime at any time, including while the extension code is
// in the middle of using the value. Aliasing is checked at run time: a cell
// hands out any number of shared borrows or one exclusive borrow, and refuses
// (or waits for) everything else.
//
// # Quick Start
//
//	c := cell.New(counter{})
//
//	g, err := c.BorrowMut()
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//	g.Value().n++
//
// # Variants
//
// [Cell] fails fast: a conflicting borrow returns a [*BorrowError]
// immediately. Use it when only one goroutine touches the value, so that any
// conflict is a reentrancy bug.
//
// [BlockingCell] waits on contention from other goroutines and fails fast on
// conflicts with the calling goroutine's own borrows.
//
// # Reentrancy
//
// An exclusive borrow cannot coexist with any other borrow. When code holding
// an exclusive borrow has to call into foreign code that may borrow the same
// cell again, it first suspends its borrow:
//
//	g := c.MustBorrowMut()
//	defer g.Release()
//
//	g.Value().n++
//	ig, err := c.MakeInaccessible(g.Value())
//	if err != nil {
//		return err
//	}
//	host.Call() // may borrow c, shared or exclusive
//	if err := ig.Restore(ctx); err != nil {
//		return err
//	}
//	g.Value().n++
//
// While suspended, the original guard panics with [ErrNotCurrent] if used, so
// at most one usable exclusive reference to the value exists at any time.
// [InaccessibleGuard.TryDrop] resumes the borrow once every nested borrow is
// released and reports [ErrNotYetRestorable] until then;
// [InaccessibleGuard.Restore] retries it with backoff.
//
// # Errors
//
// All refused operations return a [*BorrowError] that matches one of
// [ErrAlreadyExclusivelyBorrowed], [ErrAlreadyBorrowed],
// [ErrInaccessibleMismatch], [ErrNotYetRestorable], [ErrNotBorrowed] or
// [ErrPoisoned] with errors.Is. With [WithStackTracking] the error also
// carries where the conflicting borrow was taken.
//
// Guards must be released exactly when the borrow ends. Release is
// idempotent. A guard used after Release panics with [ErrReleased].
//
// # Thread Safety
//
// Both variants are safe for concurrent use. Guards may be released from any
// goroutine, but a BlockingCell identifies the borrower by the goroutine that
// called Borrow or BorrowMut.
package cell
