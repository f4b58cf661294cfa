// Package sqlite implements the cache backend and snapshot store on SQLite
// via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	warden "github.com/eugener/warden/internal"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragmas applied to every connection. WAL lets the read pool run alongside
// the single writer.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Store holds cache entries and metrics snapshots. Writes are serialized
// through a single connection.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn (a file path or ":memory:"), applies
// pending migrations, and returns a Store.
func New(dsn string) (*Store, error) {
	full := connString(dsn)

	write, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", full)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	s := &Store{write: write, read: read}
	if err := s.migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

// connString builds the driver DSN. In-memory databases use a shared cache
// so both pools see the same data.
func connString(dsn string) string {
	var b strings.Builder
	if dsn == ":memory:" {
		b.WriteString("file::memory:?mode=memory&cache=shared")
	} else {
		b.WriteString("file:" + dsn + "?")
	}
	for i, p := range pragmas {
		if i > 0 || dsn == ":memory:" {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=" + p)
	}
	return b.String()
}

// migrate applies embedded goose migrations on the write connection.
func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.write, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}
	return nil
}

// Ping checks both pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.read.PingContext(ctx); err != nil {
		return unavailable("ping read", err)
	}
	if err := s.write.PingContext(ctx); err != nil {
		return unavailable("ping write", err)
	}
	return nil
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}

// unavailable marks driver errors as backend faults while keeping the cause.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, warden.ErrBackendUnavailable, err)
}
