// Package state implements the borrow state machine behind every cell.
//
// A State counts the live borrows of one value:
//   - shared: number of live shared borrows
//   - mut: number of live exclusive borrows, accessible or not
//   - inaccessible: number of exclusive borrows that were handed back to the
//     cell so a nested (reentrant) borrow can be taken
//
// At most one exclusive borrow is accessible at any instant
// (mut - inaccessible is 0 or 1), and an accessible exclusive borrow never
// coexists with a shared borrow. Every transition either succeeds completely or
// leaves the state untouched and returns an error.
//
// # Kinds
//
// The counters collapse into four conceptual kinds, see [Kind]:
//
//	Unused        no borrow of any kind
//	Shared(n)     n >= 1 shared borrows, no accessible exclusive borrow
//	Exclusive     one accessible exclusive borrow
//	Inaccessible  exclusive borrows exist but all of them are suspended
//
// # Poisoning
//
// If a transition finds an invariant already broken, the state is poisoned and
// every later transition fails with [ErrPoisoned]. Poisoning indicates a bug in
// the cell implementation, not in the caller.
//
// # Thread Safety
//
// State is NOT safe for concurrent use. Cells serialize access with their own
// mutex.
package state
