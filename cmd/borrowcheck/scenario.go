package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/borrowcell/binding"
	"github.com/kolkov/borrowcell/cell"
)

func newScenarioCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Replay a reference borrow scenario",
	}
	cmd.AddCommand(newReentrantCmd(a), newContentionCmd(a))
	return cmd
}

// counter is the instance the scenarios borrow.
type counter struct {
	base *binding.Storage[counter]
	n    int
}

func newReentrantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reentrant",
		Short: "Nested exclusive borrows through make-inaccessible/restore",
		Long: `Each level takes an exclusive borrow, increments the counter, suspends
its borrow and calls back into the same instance, until the requested depth is
reached. With --after-restore the outermost level increments once more through
its own borrow after the nested calls are done and the borrow is restored.

The defaults (depth 2, --after-restore) take the counter 0 -> 1 -> 2 -> 3:
the outer borrow increments, a nested borrow increments and is released, and
the restored outer borrow increments again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trail, err := runReentrant(cmd.Context(), a, reentrantConfig{
				Depth:        a.v.GetInt("depth"),
				Blocking:     a.v.GetBool("blocking"),
				AfterRestore: a.v.GetBool("after_restore"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reentrant: %s\n", strings.Join(trail, " -> "))
			return nil
		},
	}
	cmd.Flags().Int("depth", 2, "number of nested exclusive borrows")
	cmd.Flags().Bool("blocking", false, "use the blocking cell variant")
	cmd.Flags().Bool("after-restore", true, "increment again through the restored outer borrow")
	a.bind(cmd, "depth", "blocking", "after-restore")
	return cmd
}

type reentrantConfig struct {
	Depth        int
	Blocking     bool
	AfterRestore bool
}

// runReentrant performs cfg.Depth nested exclusive borrows and returns the
// counter values observed, starting with the initial 0.
func runReentrant(ctx context.Context, a *app, cfg reentrantConfig) ([]string, error) {
	if cfg.Depth < 1 {
		return nil, fmt.Errorf("depth must be positive, got %d", cfg.Depth)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var bc binding.Cell[counter]
	if cfg.Blocking {
		bc = cell.NewBlocking(counter{}, cell.WithStackTracking())
	} else {
		bc = cell.New(counter{}, cell.WithStackTracking())
	}

	reg := binding.NewRegistry(binding.WithLogger(a.logger))
	s := binding.Register(reg, bc)
	if err := s.CallMut(func(c *counter) { c.base = s }); err != nil {
		return nil, err
	}

	trail := []string{"0"}
	incr := func(c *counter, level int) {
		c.n++
		trail = append(trail, fmt.Sprint(c.n))
		a.logger.Debug("incremented", "level", level, "value", c.n)
	}

	var step func(c *counter, level int) error
	step = func(c *counter, level int) error {
		incr(c, level)
		if level == cfg.Depth {
			return nil
		}

		b, err := c.base.Reenter(c)
		if err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
		var nested error
		if err := b.CallMut(func(c *counter) { nested = step(c, level+1) }); err != nil {
			return fmt.Errorf("level %d: reentering: %w", level, err)
		}
		if err := b.Release(ctx); err != nil {
			return fmt.Errorf("level %d: restoring: %w", level, err)
		}
		return nested
	}

	var runErr error
	err := s.CallMut(func(c *counter) {
		if runErr = step(c, 1); runErr != nil || !cfg.AfterRestore {
			return
		}
		incr(c, 1)
	})
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}

	if s.IsBound() {
		return nil, fmt.Errorf("instance still borrowed after scenario")
	}
	if err := reg.Destroy(s.ID()); err != nil {
		return nil, err
	}
	return trail, nil
}

func newContentionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contention",
		Short: "Shared readers against an intermittent writer on a blocking cell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := contentionConfig{
				Readers:    a.v.GetInt("readers"),
				Reads:      a.v.GetInt("reads"),
				Writes:     a.v.GetInt("writes"),
				WritePause: a.v.GetDuration("write_pause"),
			}
			res, err := runContention(a, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"contention: value=%d shared=%d exclusive=%d waited=%s idle=%t\n",
				res.Value, res.Metrics.SharedAcquires, res.Metrics.ExclusiveAcquires,
				res.Metrics.Wait, res.Snapshot.Idle())
			return nil
		},
	}
	cmd.Flags().Int("readers", 2, "number of reader goroutines")
	cmd.Flags().Int("reads", 100, "shared borrows per reader")
	cmd.Flags().Int("writes", 20, "exclusive borrows taken by the writer")
	cmd.Flags().Duration("write-pause", 100*time.Microsecond, "pause between writes")
	a.bind(cmd, "readers", "reads", "writes", "write-pause")
	return cmd
}

type contentionConfig struct {
	Readers    int
	Reads      int
	Writes     int
	WritePause time.Duration
}

type contentionResult struct {
	Value    int
	Snapshot cell.TrackerSnapshot
	Metrics  cell.MetricsSnapshot
}

// runContention has cfg.Readers goroutines take cfg.Reads shared borrows each
// while one writer takes cfg.Writes exclusive borrows, and checks that
// readers and the writer never overlapped.
func runContention(a *app, cfg contentionConfig) (contentionResult, error) {
	m := &cell.BasicMetrics{}
	c := cell.NewBlocking(counter{}, cell.WithMetrics(m))

	var writing, reading atomic.Int32
	var g errgroup.Group

	for r := 0; r < cfg.Readers; r++ {
		g.Go(func() error {
			for i := 0; i < cfg.Reads; i++ {
				s, err := c.Borrow()
				if err != nil {
					return fmt.Errorf("reader %d: %w", r, err)
				}
				reading.Add(1)
				overlap := writing.Load() != 0
				reading.Add(-1)
				s.Release()
				if overlap {
					return fmt.Errorf("reader %d overlapped the writer", r)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := 0; i < cfg.Writes; i++ {
			w, err := c.BorrowMut()
			if err != nil {
				return fmt.Errorf("writer: %w", err)
			}
			writing.Add(1)
			overlap := reading.Load() != 0
			w.Value().n++
			writing.Add(-1)
			w.Release()
			if overlap {
				return fmt.Errorf("writer overlapped a reader")
			}
			a.logger.Debug("write", "n", i+1)
			time.Sleep(cfg.WritePause)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return contentionResult{}, err
	}

	res := contentionResult{Snapshot: c.Snapshot(), Metrics: m.Snapshot()}
	if !res.Snapshot.Idle() {
		return res, fmt.Errorf("cell not idle after contention: %+v", res.Snapshot)
	}
	s := c.MustBorrow()
	res.Value = s.Get().n
	s.Release()
	return res, nil
}
