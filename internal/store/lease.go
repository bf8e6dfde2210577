package store

import (
	"context"
	"time"

	"guest-gc/internal/guest"
)

// ClaimSweep records owner as the node running job for slot. Only the first
// claim per slot succeeds.
func (s *Store) ClaimSweep(ctx context.Context, job string, slot time.Time, owner string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO sweep_runs (job, slot, owner, started_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job, slot) DO NOTHING`, job, slot.UTC(), owner)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinishSweep(ctx context.Context, job string, slot time.Time, stats guest.SweepStats) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sweep_runs
		SET finished_at = now(), schemas = $3, guests = $4, failures = $5
		WHERE job = $1 AND slot = $2`, job, slot.UTC(), stats.Schemas, stats.Guests, stats.Failures)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return guest.ErrNotFound
	}
	return nil
}

// SweepRun is one row of the sweep history.
type SweepRun struct {
	Job        string
	Slot       time.Time
	Owner      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Stats      guest.SweepStats
}

// LatestSweep returns the most recent claimed slot for job.
func (s *Store) LatestSweep(ctx context.Context, job string) (SweepRun, error) {
	var r SweepRun
	err := s.Pool.QueryRow(ctx, `
		SELECT job, slot, owner, started_at, finished_at, schemas, guests, failures
		FROM sweep_runs WHERE job = $1
		ORDER BY slot DESC LIMIT 1`, job).
		Scan(&r.Job, &r.Slot, &r.Owner, &r.StartedAt, &r.FinishedAt, &r.Stats.Schemas, &r.Stats.Guests, &r.Stats.Failures)
	if err != nil {
		return SweepRun{}, classify(err)
	}
	return r, nil
}
