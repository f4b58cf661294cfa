package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises a fixed set of workers. The first worker error cancels
// the rest.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Len returns the number of managed workers.
func (r *Runner) Len() int { return len(r.workers) }

// Run blocks until ctx is cancelled and every worker has returned, or until
// a worker fails. A Runner with no workers simply waits for ctx, so callers
// can treat its return as a shutdown signal either way.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.workers) == 0 {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := workerName(w)
		g.Go(func() error {
			slog.Info("worker started", "worker", name)
			err := w.Run(ctx)
			if err != nil {
				slog.Error("worker failed", "worker", name, "error", err)
				return fmt.Errorf("worker %s: %w", name, err)
			}
			slog.Info("worker stopped", "worker", name)
			return nil
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(named); ok {
		return n.Name()
	}
	return "unknown"
}
