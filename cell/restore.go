package cell

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Restore backoff schedule. The first attempt is immediate; nested borrows
// are normally released within microseconds of the reentrant call returning.
const (
	restoreInitialInterval = 50 * time.Microsecond
	restoreMaxInterval     = 10 * time.Millisecond
)

func newRestoreBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = restoreInitialInterval
	b.MaxInterval = restoreMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Restore resumes the suspended exclusive borrow, retrying TryDrop while
// nested borrows are still live.
//
// Only ErrNotYetRestorable is retried; any other error is returned at once.
// Restore gives up with ctx.Err() when ctx is done.
func (g *InaccessibleGuard[T]) Restore(ctx context.Context) error {
	attempts := 0
	op := func() error {
		attempts++
		err := g.TryDrop()
		if err == nil || errors.Is(err, ErrNotYetRestorable) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, newRestoreBackOff(ctx))
	g.c.cfg.metrics.RecordRestore(attempts, err)
	return err
}

// MustRestore is like Restore with a background context, panicking on
// failure. It returns only once the suspended borrow is usable again.
func (g *InaccessibleGuard[T]) MustRestore() {
	if err := g.Restore(context.Background()); err != nil {
		panic(err)
	}
}
