package state

import (
	"errors"
	"fmt"
)

// Conflict and misuse errors returned by State transitions.
//
// Transitions wrap these with a short reason; match them with errors.Is.
var (
	// ErrAlreadyExclusivelyBorrowed: a shared borrow was requested while an
	// accessible exclusive borrow is live.
	ErrAlreadyExclusivelyBorrowed = errors.New("already exclusively borrowed")

	// ErrAlreadyBorrowed: an exclusive borrow was requested while another
	// borrow (shared or accessible exclusive) is live.
	ErrAlreadyBorrowed = errors.New("already borrowed")

	// ErrInaccessibleMismatch: an exclusive borrow could not be made
	// inaccessible (no accessible exclusive borrow, shared borrows exist, or
	// the reference does not belong to the live exclusive borrow).
	ErrInaccessibleMismatch = errors.New("cannot make borrow inaccessible")

	// ErrNotYetRestorable: an inaccessible borrow cannot become accessible yet
	// because a nested borrow is still live. Retry later.
	ErrNotYetRestorable = errors.New("inaccessible borrow not yet restorable")

	// ErrStillInaccessible: an exclusive borrow was released while it was
	// inaccessible.
	ErrStillInaccessible = errors.New("exclusive borrow released while inaccessible")

	// ErrNotBorrowed: a release was attempted for a borrow that is not
	// tracked.
	ErrNotBorrowed = errors.New("release without matching borrow")

	// ErrPoisoned: the state reached an unreliable condition earlier.
	ErrPoisoned = errors.New("borrow state is poisoned")
)

// Kind is the conceptual borrow state derived from the counters.
type Kind uint8

const (
	// Unused means no borrow of any kind is live.
	Unused Kind = iota
	// Shared means one or more shared borrows and no accessible exclusive one.
	Shared
	// Exclusive means one accessible exclusive borrow.
	Exclusive
	// Inaccessible means exclusive borrows exist and all are suspended.
	Inaccessible
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case Unused:
		return "unused"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	case Inaccessible:
		return "inaccessible"
	default:
		return "unknown"
	}
}

// State tracks the borrows of a single value.
//
// The zero value is an Unused, unpoisoned state ready for use.
type State struct {
	shared       int
	mut          int
	inaccessible int

	// poison is the reason the state was poisoned, nil while healthy.
	poison error
}

// Kind returns the conceptual borrow kind.
func (s *State) Kind() Kind {
	switch {
	case s.HasAccessible():
		return Exclusive
	case s.shared > 0:
		return Shared
	case s.mut > 0:
		return Inaccessible
	default:
		return Unused
	}
}

// HasAccessible reports whether an accessible exclusive borrow exists.
func (s *State) HasAccessible() bool {
	return s.mut-s.inaccessible == 1
}

// SharedCount returns the number of live shared borrows.
func (s *State) SharedCount() int { return s.shared }

// MutCount returns the number of live exclusive borrows, accessible or not.
func (s *State) MutCount() int { return s.mut }

// InaccessibleCount returns the number of suspended exclusive borrows.
func (s *State) InaccessibleCount() int { return s.inaccessible }

// IsBound reports whether any borrow is live.
func (s *State) IsBound() bool { return s.shared > 0 || s.mut > 0 }

// IsMutablyBound reports whether any exclusive borrow is live, accessible or not.
func (s *State) IsMutablyBound() bool { return s.mut > 0 }

// IsPoisoned reports whether the state reached an unreliable condition.
func (s *State) IsPoisoned() bool { return s.poison != nil }

// Poison marks the state as unreliable and returns the resulting error.
//
// The first reason sticks; later calls keep it.
func (s *State) Poison(reason string) error {
	if s.poison == nil {
		s.poison = fmt.Errorf("%w: %s", ErrPoisoned, reason)
	}
	return s.poison
}

func (s *State) ensureNotPoisoned() error {
	if s.poison != nil {
		return s.poison
	}
	return nil
}

// IncrementShared tracks a new shared borrow and returns the new shared count.
//
// Fails when an accessible exclusive borrow exists.
func (s *State) IncrementShared() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.shared, err
	}
	if s.HasAccessible() {
		return s.shared, fmt.Errorf("%w: cannot borrow while accessible exclusive borrow exists",
			ErrAlreadyExclusivelyBorrowed)
	}

	s.shared++
	return s.shared, nil
}

// DecrementShared untracks a shared borrow and returns the new shared count.
//
// Fails when no shared borrow is tracked. Finding a shared borrow next to an
// accessible exclusive one poisons the state.
func (s *State) DecrementShared() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.shared, err
	}
	if s.shared == 0 {
		return s.shared, fmt.Errorf("%w: no shared borrow exists", ErrNotBorrowed)
	}
	if s.HasAccessible() {
		return s.shared, s.Poison("shared borrow tracked while accessible exclusive borrow exists")
	}

	s.shared--
	return s.shared, nil
}

// IncrementMut tracks a new exclusive borrow and returns the new exclusive count.
//
// Fails when an accessible exclusive borrow or any shared borrow exists.
func (s *State) IncrementMut() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.mut, err
	}
	if s.HasAccessible() {
		return s.mut, fmt.Errorf("%w: cannot borrow exclusively while accessible exclusive borrow exists",
			ErrAlreadyBorrowed)
	}
	if s.shared != 0 {
		return s.mut, fmt.Errorf("%w: cannot borrow exclusively while shared borrow exists",
			ErrAlreadyBorrowed)
	}

	s.mut++
	return s.mut, nil
}

// DecrementMut untracks the accessible exclusive borrow and returns the new
// exclusive count.
//
// Fails when no exclusive borrow exists or the current one is inaccessible.
func (s *State) DecrementMut() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.mut, err
	}
	if s.mut == 0 {
		return s.mut, fmt.Errorf("%w: no exclusive borrow exists", ErrNotBorrowed)
	}
	if s.mut == s.inaccessible {
		return s.mut, ErrStillInaccessible
	}
	if s.mut-1 != s.inaccessible {
		return s.mut, s.Poison("inaccessible count does not fit its invariant")
	}

	s.mut--
	return s.mut, nil
}

// SetInaccessible suspends the accessible exclusive borrow and returns the new
// inaccessible count.
//
// Fails when no accessible exclusive borrow exists.
func (s *State) SetInaccessible() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.inaccessible, err
	}
	if !s.HasAccessible() {
		return s.inaccessible, fmt.Errorf("%w: no accessible exclusive borrow exists",
			ErrInaccessibleMismatch)
	}
	if s.shared != 0 {
		return s.inaccessible, s.Poison("shared borrow tracked while accessible exclusive borrow exists")
	}

	s.inaccessible++
	return s.inaccessible, nil
}

// MayUnsetInaccessible reports whether UnsetInaccessible would succeed now.
func (s *State) MayUnsetInaccessible() bool {
	return s.poison == nil && !s.HasAccessible() && s.shared == 0 && s.inaccessible > 0
}

// UnsetInaccessible resumes the most recently suspended exclusive borrow and
// returns the new inaccessible count.
//
// Fails with ErrNotYetRestorable while a nested borrow is still live.
func (s *State) UnsetInaccessible() (int, error) {
	if err := s.ensureNotPoisoned(); err != nil {
		return s.inaccessible, err
	}
	if s.inaccessible == 0 {
		return s.inaccessible, fmt.Errorf("%w: no inaccessible borrow exists", ErrNotBorrowed)
	}
	if s.HasAccessible() {
		return s.inaccessible, fmt.Errorf("%w: nested exclusive borrow still live", ErrNotYetRestorable)
	}
	if s.shared > 0 {
		return s.inaccessible, fmt.Errorf("%w: %d nested shared borrows still live",
			ErrNotYetRestorable, s.shared)
	}

	s.inaccessible--
	return s.inaccessible, nil
}

// String formats the counters for diagnostics.
func (s *State) String() string {
	out := fmt.Sprintf("%s(shared=%d mut=%d inaccessible=%d)", s.Kind(), s.shared, s.mut, s.inaccessible)
	if s.poison != nil {
		out += " poisoned"
	}
	return out
}
