package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eugener/warden/internal/storage"
)

const snapshotDrainTime = 10 * time.Second

// Exporter produces a serialized metrics snapshot.
type Exporter interface {
	Export() ([]byte, error)
}

// SnapshotStore is the persistence interface consumed by SnapshotWorker.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s *storage.Snapshot) error
	PruneSnapshots(ctx context.Context, keep int) (int, error)
}

// SnapshotWorker periodically persists metrics exports for offline analysis.
// A final snapshot is written on shutdown.
type SnapshotWorker struct {
	exporter Exporter
	store    SnapshotStore
	interval time.Duration
	keep     int
}

// NewSnapshotWorker creates a SnapshotWorker. keep <= 0 retains every snapshot.
func NewSnapshotWorker(exporter Exporter, store SnapshotStore, interval time.Duration, keep int) *SnapshotWorker {
	return &SnapshotWorker{
		exporter: exporter,
		store:    store,
		interval: interval,
		keep:     keep,
	}
}

// Name returns the worker identifier.
func (w *SnapshotWorker) Name() string { return "metrics_snapshot" }

// Run captures a snapshot every interval until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.capture(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), snapshotDrainTime)
			w.capture(drainCtx)
			cancel()
			return nil
		}
	}
}

func (w *SnapshotWorker) capture(ctx context.Context) {
	data, err := w.exporter.Export()
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "metrics export failed",
			slog.String("error", err.Error()),
		)
		return
	}
	snap := &storage.Snapshot{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.InsertSnapshot(ctx, snap); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "metrics snapshot failed",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}
	if w.keep <= 0 {
		return
	}
	if n, err := w.store.PruneSnapshots(ctx, w.keep); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "metrics snapshot prune failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "metrics snapshots pruned",
			slog.Int("removed", n),
		)
	}
}
