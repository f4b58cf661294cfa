// Package storage defines persistence interfaces for Warden.
package storage

import (
	"context"
	"time"

	warden "github.com/eugener/warden/internal"
)

// Snapshot is a persisted metrics export.
type Snapshot struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore manages metrics snapshot persistence.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s *Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	PruneSnapshots(ctx context.Context, keep int) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	warden.Backend
	SnapshotStore
	Ping(ctx context.Context) error
	Close() error
}
