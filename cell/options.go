package cell

import "github.com/kolkov/borrowcell/internal/borrow/stackdepot"

// Option configures a cell.
type Option func(*config)

type config struct {
	// trackStacks records where the latest borrows were taken.
	trackStacks bool

	depot   *stackdepot.Depot
	metrics MetricsCollector
}

func newConfig(opts []Option) config {
	cfg := config{
		depot:   stackdepot.Default,
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithStackTracking makes the cell record the goroutine and call stack of
// its latest shared and exclusive borrow, and include them in BorrowError.
//
// Costs a goroutine ID lookup and a stack capture per acquire; meant for
// debugging reentrancy bugs.
func WithStackTracking() Option {
	return func(c *config) {
		c.trackStacks = true
	}
}

// WithMetrics installs a collector notified on every acquire, release and
// restore. A nil collector restores the no-op default.
func WithMetrics(m MetricsCollector) Option {
	return func(c *config) {
		if m == nil {
			m = NoopMetrics{}
		}
		c.metrics = m
	}
}
