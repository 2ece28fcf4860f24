// Package stackdepot stores deduplicated acquisition stacks for borrow
// conflict reports.
//
// When stack tracking is enabled, a cell records where its latest shared and
// exclusive borrows were taken. Storing full stacks per borrow would be costly,
// so each distinct stack is stored once in a Depot and referenced by a 64-bit
// hash.
//
// Design:
//   - Fixed-size stack traces (MaxFrames program counters)
//   - Hash-based deduplication (FNV-1a over the program counters)
//   - sync.Map storage (stable keys, read-mostly)
//
// Usage:
//
//	hash := stackdepot.Default.Capture(1)
//	...
//	fmt.Print(stackdepot.Default.Lookup(hash).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of stack frames captured per borrow.
// Conflicts are almost always explained by the innermost frames.
const MaxFrames = 16

// Trace is a captured stack of fixed size.
type Trace struct {
	PC [MaxFrames]uintptr
	n  int
}

// Depot is a deduplicating store of stack traces.
//
// The zero value is ready for use. Safe for concurrent use.
type Depot struct {
	traces sync.Map // uint64 hash -> *Trace
}

// Default is the process-wide depot used by cells.
var Default = &Depot{}

// Capture records the caller's stack and returns its hash.
//
// skip is the number of frames to omit above the caller of Capture: 0 starts
// the trace at the function that called Capture. Returns 0 if no stack is
// available.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashPCs(pcs[:n])
	if _, ok := d.traces.Load(hash); ok {
		return hash
	}
	d.traces.LoadOrStore(hash, &Trace{PC: pcs, n: n})
	return hash
}

// Lookup returns the trace stored under hash, or nil if hash is 0 or unknown.
func (d *Depot) Lookup(hash uint64) *Trace {
	if hash == 0 {
		return nil
	}
	v, ok := d.traces.Load(hash)
	if !ok {
		return nil
	}
	return v.(*Trace)
}

// Len returns the number of distinct stacks stored.
//
// O(N); not for hot paths.
func (d *Depot) Len() int {
	n := 0
	d.traces.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset drops every stored stack.
//
// NOT safe to call while other goroutines use the depot; intended for tests.
func (d *Depot) Reset() {
	d.traces = sync.Map{}
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:]) // hash.Hash never returns an error
	}
	return h.Sum64()
}

// Format renders the trace like a Go panic stack, without runtime frames:
//
//	main.handler()
//	    /path/to/file.go:45
//
// A nil trace renders as "  <unknown>\n".
func (t *Trace) Format() string {
	if t == nil || t.n == 0 {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(t.PC[:t.n])

	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && frame.Function != "" {
			fmt.Fprintf(&buf, "  %s()\n      %s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Frames returns the number of captured program counters.
func (t *Trace) Frames() int {
	if t == nil {
		return 0
	}
	return t.n
}
