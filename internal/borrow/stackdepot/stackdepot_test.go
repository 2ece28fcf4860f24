package stackdepot

import (
	"strings"
	"sync"
	"testing"
)

// TestCapture tests basic stack capture and retrieval.
func TestCapture(t *testing.T) {
	d := &Depot{}

	hash := d.Capture(0)
	if hash == 0 {
		t.Fatal("Capture returned zero hash")
	}

	trace := d.Lookup(hash)
	if trace == nil {
		t.Fatal("Lookup returned nil for valid hash")
	}
	if trace.Frames() == 0 {
		t.Error("trace has no frames")
	}
}

// TestDeduplication tests that identical stacks produce the same hash.
func TestDeduplication(t *testing.T) {
	d := &Depot{}

	// Same call site in a loop gives identical stacks.
	var hashes [2]uint64
	for i := range hashes {
		hashes[i] = d.Capture(0)
	}

	if hashes[0] != hashes[1] {
		t.Errorf("Expected same hash for same stack, got %x != %x", hashes[0], hashes[1])
	}
	if d.Lookup(hashes[0]) != d.Lookup(hashes[1]) {
		t.Error("Expected same Trace pointer (deduplication)")
	}
	if n := d.Len(); n != 1 {
		t.Errorf("Expected 1 unique stack after deduplication, got %d", n)
	}
}

//go:noinline
func captureFromHelper(d *Depot) uint64 {
	return d.Capture(0)
}

// TestDifferentStacks tests that different call sites are stored separately.
func TestDifferentStacks(t *testing.T) {
	d := &Depot{}

	h1 := d.Capture(0)
	h2 := captureFromHelper(d)

	if h1 == h2 {
		t.Error("different call sites produced the same hash")
	}
	if n := d.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestLookupUnknown(t *testing.T) {
	d := &Depot{}
	if d.Lookup(0) != nil {
		t.Error("Lookup(0) returned a trace")
	}
	if d.Lookup(0xdeadbeef) != nil {
		t.Error("Lookup(unknown) returned a trace")
	}
}

// TestFormat verifies the rendered trace names the capturing test.
func TestFormat(t *testing.T) {
	d := &Depot{}
	formatted := d.Lookup(d.Capture(0)).Format()

	if !strings.Contains(formatted, "TestFormat") {
		t.Errorf("formatted trace does not mention TestFormat:\n%s", formatted)
	}
	if !strings.Contains(formatted, "stackdepot_test.go:") {
		t.Errorf("formatted trace has no file:line:\n%s", formatted)
	}
	if strings.Contains(formatted, "runtime.Callers") {
		t.Errorf("formatted trace contains runtime frames:\n%s", formatted)
	}
}

func TestFormatNil(t *testing.T) {
	var trace *Trace
	if got := trace.Format(); got != "  <unknown>\n" {
		t.Errorf("nil Format() = %q", got)
	}
	if trace.Frames() != 0 {
		t.Error("nil Frames() != 0")
	}
}

//go:noinline
func captureSkipping(d *Depot) uint64 {
	return d.Capture(1)
}

// TestSkip verifies skip omits the helper frame.
func TestSkip(t *testing.T) {
	d := &Depot{}
	formatted := d.Lookup(captureSkipping(d)).Format()

	if strings.Contains(formatted, "captureSkipping") {
		t.Errorf("skipped frame present:\n%s", formatted)
	}
	if !strings.Contains(formatted, "TestSkip") {
		t.Errorf("caller frame missing:\n%s", formatted)
	}
}

func TestReset(t *testing.T) {
	d := &Depot{}
	hash := d.Capture(0)
	d.Reset()

	if d.Lookup(hash) != nil {
		t.Error("trace survived Reset")
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d after Reset", d.Len())
	}
}

// TestConcurrentCapture verifies concurrent captures from one site dedupe.
func TestConcurrentCapture(t *testing.T) {
	d := &Depot{}
	const numGoroutines = 50

	hashes := make(chan uint64, numGoroutines)
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashes <- captureFromHelper(d)
		}()
	}
	wg.Wait()
	close(hashes)

	first := <-hashes
	for h := range hashes {
		if h != first {
			t.Fatalf("concurrent captures from one site differ: %x != %x", h, first)
		}
	}
	if n := d.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func BenchmarkCapture(b *testing.B) {
	d := &Depot{}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = d.Capture(0)
	}
}
