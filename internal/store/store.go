package store

import (
	"context"
	"time"

	"guest-gc/internal/guest"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ guest.Store      = (*Store)(nil)
	_ guest.SweepLease = (*Store)(nil)
)

// Store is the Postgres-backed guest directory. It implements guest.Store and
// guest.SweepLease.
type Store struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}
