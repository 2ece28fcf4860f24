package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/borrowcell/cell"
)

func newStressCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a randomized borrow workload against a blocking cell",
		Long: `Each goroutine performs a random mix of shared borrows, exclusive
borrows, and exclusive borrows that suspend themselves and reborrow the cell
before restoring. The run fails if two borrows ever overlap illegally, if the
final value does not match the number of writes, or if the cell is not idle
afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := stressConfig{
				Goroutines:     a.v.GetInt("goroutines"),
				Ops:            a.v.GetInt("ops"),
				WriteRatio:     a.v.GetFloat64("write_ratio"),
				ReentrantRatio: a.v.GetFloat64("reentrant_ratio"),
				Timeout:        a.v.GetDuration("timeout"),
				TrackStacks:    a.v.GetBool("track_stacks"),
				Seed:           a.v.GetInt64("seed"),
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			start := time.Now()
			res, err := runStress(ctx, a, cfg)
			if err != nil {
				return err
			}
			m := res.Metrics
			fmt.Fprintf(cmd.OutOrStdout(),
				"stress: %d ops in %s: shared=%d exclusive=%d suspended=%d restores=%d (attempts %d) waited=%s value=%d\n",
				cfg.Goroutines*cfg.Ops, time.Since(start).Round(time.Millisecond),
				m.SharedAcquires, m.ExclusiveAcquires, m.Suspensions,
				m.Restores, m.RestoreAttempts, m.Wait.Round(time.Microsecond), res.Value)
			return nil
		},
	}
	cmd.Flags().Int("goroutines", 16, "number of worker goroutines")
	cmd.Flags().Int("ops", 1000, "operations per goroutine")
	cmd.Flags().Float64("write-ratio", 0.25, "fraction of operations that borrow exclusively")
	cmd.Flags().Float64("reentrant-ratio", 0.2, "fraction of exclusive borrows that reenter the cell")
	cmd.Flags().Duration("timeout", 30*time.Second, "abort the run after this long")
	cmd.Flags().Bool("track-stacks", false, "record acquisition stacks for conflict reports")
	cmd.Flags().Int64("seed", 1, "random seed; each goroutine derives its own")
	a.bind(cmd, "goroutines", "ops", "write-ratio", "reentrant-ratio", "timeout", "track-stacks", "seed")
	return cmd
}

type stressConfig struct {
	Goroutines     int
	Ops            int
	WriteRatio     float64
	ReentrantRatio float64
	Timeout        time.Duration
	TrackStacks    bool
	Seed           int64
}

type stressResult struct {
	Value   int
	Writes  int64
	Metrics cell.MetricsSnapshot
}

// stressWorker runs one goroutine's share of the workload.
type stressWorker struct {
	c   *cell.BlockingCell[counter]
	rng *rand.Rand
	cfg stressConfig

	// writers and readers count goroutines currently inside a borrow.
	writers, readers *atomic.Int32
	writes           *atomic.Int64
}

func (w *stressWorker) run(ctx context.Context) error {
	for i := 0; i < w.cfg.Ops; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch r := w.rng.Float64(); {
		case r >= w.cfg.WriteRatio:
			err = w.read(ctx)
		case w.rng.Float64() < w.cfg.ReentrantRatio:
			err = w.writeReentrant(ctx)
		default:
			err = w.write(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *stressWorker) read(ctx context.Context) error {
	s, err := w.c.BorrowContext(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	w.readers.Add(1)
	defer w.readers.Add(-1)
	if w.writers.Load() != 0 {
		return fmt.Errorf("shared borrow overlapped an exclusive borrow")
	}
	return nil
}

func (w *stressWorker) write(ctx context.Context) error {
	g, err := w.c.BorrowMutContext(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return w.mutate(g)
}

// writeReentrant takes an exclusive borrow, suspends it, reborrows the cell
// the way a host callback would, and restores it.
func (w *stressWorker) writeReentrant(ctx context.Context) error {
	g, err := w.c.BorrowMutContext(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	if err := w.mutate(g); err != nil {
		return err
	}

	ig, err := g.MakeInaccessible()
	if err != nil {
		return err
	}
	nested, err := w.c.BorrowMut()
	if err != nil {
		return fmt.Errorf("nested borrow: %w", err)
	}
	err = w.mutate(nested)
	nested.Release()
	if err != nil {
		return err
	}
	return ig.Restore(ctx)
}

func (w *stressWorker) mutate(g *cell.ExclusiveGuard[counter]) error {
	if w.writers.Add(1) != 1 || w.readers.Load() != 0 {
		w.writers.Add(-1)
		return fmt.Errorf("exclusive borrow overlapped another borrow")
	}
	g.Value().n++
	w.writes.Add(1)
	w.writers.Add(-1)
	return nil
}

func runStress(ctx context.Context, a *app, cfg stressConfig) (stressResult, error) {
	if cfg.Goroutines < 1 || cfg.Ops < 0 {
		return stressResult{}, fmt.Errorf("invalid workload: %d goroutines, %d ops", cfg.Goroutines, cfg.Ops)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	m := &cell.BasicMetrics{}
	opts := []cell.Option{cell.WithMetrics(m)}
	if cfg.TrackStacks {
		opts = append(opts, cell.WithStackTracking())
	}
	c := cell.NewBlocking(counter{}, opts...)

	var writers, readers atomic.Int32
	var writes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Goroutines; i++ {
		w := &stressWorker{
			c:       c,
			rng:     rand.New(rand.NewSource(cfg.Seed + int64(i))),
			cfg:     cfg,
			writers: &writers,
			readers: &readers,
			writes:  &writes,
		}
		g.Go(func() error { return w.run(gctx) })
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("stress run failed", "error", err, "snapshot", fmt.Sprintf("%+v", c.Snapshot()))
		return stressResult{}, err
	}

	if snap := c.Snapshot(); !snap.Idle() {
		return stressResult{}, fmt.Errorf("cell not idle after stress: %+v", snap)
	}
	s := c.MustBorrow()
	res := stressResult{Value: s.Get().n, Writes: writes.Load(), Metrics: m.Snapshot()}
	s.Release()

	if int64(res.Value) != res.Writes {
		return res, fmt.Errorf("value %d does not match %d writes", res.Value, res.Writes)
	}
	a.logger.Info("stress run finished", "writes", res.Writes, "conflicts", res.Metrics.Conflicts)
	return res, nil
}
