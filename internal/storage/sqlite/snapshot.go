package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/storage"
)

// InsertSnapshot stores a metrics snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap *storage.Snapshot) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO metric_snapshots (id, data, created_at) VALUES (?, ?, ?)`,
		snap.ID, snap.Data, snap.CreatedAt.UnixNano(),
	)
	return err
}

// LatestSnapshot returns the most recent snapshot, or warden.ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	var snap storage.Snapshot
	var createdAt int64
	err := s.read.QueryRowContext(ctx,
		`SELECT id, data, created_at FROM metric_snapshots
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&snap.ID, &snap.Data, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	return &snap, nil
}

// PruneSnapshots deletes all but the newest keep snapshots and returns how
// many rows it removed.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM metric_snapshots WHERE id NOT IN (
		   SELECT id FROM metric_snapshots ORDER BY created_at DESC, id DESC LIMIT ?
		 )`, max(keep, 0),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// notFoundErr translates sql.ErrNoRows to warden.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return warden.ErrNotFound
	}
	return err
}
