package cell

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives cell activity. Implement it to feed a monitoring
// system; methods are called synchronously on the borrowing goroutine and
// must be cheap and safe for concurrent use.
type MetricsCollector interface {
	// RecordAcquire is called after Borrow (kind Shared), BorrowMut (kind
	// Exclusive) and MakeInaccessible (kind Inaccessible). wait is the time
	// spent blocked, always zero for failing cells. err is nil on success.
	RecordAcquire(kind Kind, wait time.Duration, err error)

	// RecordRelease is called once per released guard.
	RecordRelease(kind Kind)

	// RecordRestore is called when Restore finishes. attempts counts TryDrop
	// calls including the successful one.
	RecordRestore(attempts int, err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordAcquire(Kind, time.Duration, error) {}
func (NoopMetrics) RecordRelease(Kind)                       {}
func (NoopMetrics) RecordRestore(int, error)                 {}

// BasicMetrics counts cell activity in memory.
//
// The zero value is ready for use and may be shared by many cells.
type BasicMetrics struct {
	SharedAcquires    atomic.Int64
	ExclusiveAcquires atomic.Int64
	Suspensions       atomic.Int64
	Conflicts         atomic.Int64
	WaitNanos         atomic.Int64
	Releases          atomic.Int64
	Restores          atomic.Int64
	RestoreAttempts   atomic.Int64
	RestoreErrors     atomic.Int64
}

// RecordAcquire implements MetricsCollector.
func (m *BasicMetrics) RecordAcquire(kind Kind, wait time.Duration, err error) {
	m.WaitNanos.Add(wait.Nanoseconds())
	if err != nil {
		m.Conflicts.Add(1)
		return
	}
	switch kind {
	case Shared:
		m.SharedAcquires.Add(1)
	case Exclusive:
		m.ExclusiveAcquires.Add(1)
	case Inaccessible:
		m.Suspensions.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (m *BasicMetrics) RecordRelease(Kind) {
	m.Releases.Add(1)
}

// RecordRestore implements MetricsCollector.
func (m *BasicMetrics) RecordRestore(attempts int, err error) {
	m.RestoreAttempts.Add(int64(attempts))
	if err != nil {
		m.RestoreErrors.Add(1)
		return
	}
	m.Restores.Add(1)
}

// MetricsSnapshot is a plain copy of BasicMetrics counters.
type MetricsSnapshot struct {
	SharedAcquires    int64
	ExclusiveAcquires int64
	Suspensions       int64
	Conflicts         int64
	Wait              time.Duration
	Releases          int64
	Restores          int64
	RestoreAttempts   int64
	RestoreErrors     int64
}

// Snapshot returns the current counter values.
func (m *BasicMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SharedAcquires:    m.SharedAcquires.Load(),
		ExclusiveAcquires: m.ExclusiveAcquires.Load(),
		Suspensions:       m.Suspensions.Load(),
		Conflicts:         m.Conflicts.Load(),
		Wait:              time.Duration(m.WaitNanos.Load()),
		Releases:          m.Releases.Load(),
		Restores:          m.Restores.Load(),
		RestoreAttempts:   m.RestoreAttempts.Load(),
		RestoreErrors:     m.RestoreErrors.Load(),
	}
}
