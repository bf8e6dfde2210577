package guestgc

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"guest-gc/internal/guest"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// SweepJob names the periodic sweep in the cluster lease table.
const SweepJob = "guest-cleanup"

var (
	ErrSweepRunning = errors.New("guest sweep already running")
	errSweepStopped = errors.New("guest sweep stopped")
)

// Sweeper walks every schema on a fixed interval and runs the resulting
// cleanup tasks in its own goroutine, bypassing the debounced queue.
type Sweeper struct {
	cleaner    *Cleaner
	partitions guest.Partitions
	lease      guest.SweepLease
	clock      clock.Clock
	metrics    *Metrics
	cfg        Config
	owner      string

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSweeper(cleaner *Cleaner, partitions guest.Partitions, lease guest.SweepLease, clk clock.Clock, metrics *Metrics, cfg Config) *Sweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	cfg.Normalize()
	host, _ := os.Hostname()
	if host == "" {
		host = "node"
	}
	return &Sweeper{
		cleaner:    cleaner,
		partitions: partitions,
		lease:      lease,
		clock:      clk,
		metrics:    metrics,
		cfg:        cfg,
		owner:      host + "-" + ulid.Make().String(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run fires a sweep after the initial delay and then once per interval until
// ctx is cancelled or Stop is called. It returns at once when the interval
// is zero.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)
	if s.cfg.SweepInterval <= 0 {
		log.Info().Msg("periodic guest sweep disabled")
		return
	}
	wait := s.cfg.SweepInitialDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.clock.After(wait):
		}
		started := s.clock.Now()
		s.tick(ctx, started)
		wait = s.cfg.SweepInterval - s.clock.Now().Sub(started)
		if wait < 0 {
			wait = 0
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, now time.Time) {
	slot := now.Truncate(s.cfg.SweepInterval)
	if s.lease != nil {
		claimed, err := s.lease.ClaimSweep(ctx, SweepJob, slot, s.owner)
		if err != nil {
			log.Warn().Err(err).Time("slot", slot).Msg("claim guest sweep failed")
			return
		}
		if !claimed {
			s.metrics.Sweeps.WithLabelValues("claimed_elsewhere").Inc()
			log.Debug().Time("slot", slot).Msg("guest sweep slot claimed by another node")
			return
		}
	}
	stats, err := s.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("guest sweep failed")
	}
	if s.lease != nil {
		if err := s.lease.FinishSweep(ctx, SweepJob, slot, stats); err != nil {
			log.Warn().Err(err).Time("slot", slot).Msg("record guest sweep failed")
		}
	}
}

// Sweep performs one full pass. It returns early, without error, once the
// sweeper is stopped or ctx is cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (guest.SweepStats, error) {
	var stats guest.SweepStats
	if !s.running.CompareAndSwap(false, true) {
		return stats, ErrSweepRunning
	}
	defer s.running.Store(false)

	start := s.clock.Now()
	schemas, err := s.partitions.ListSchemas(ctx)
	if err != nil {
		s.metrics.Sweeps.WithLabelValues("failed").Inc()
		return stats, err
	}
	log.Info().Int("schemas", len(schemas)).Msg("guest sweep started")

	stop, release := s.stopSignal(ctx)
	defer release()

	lastProgress := start
	for i, schema := range schemas {
		if s.stopping(ctx) {
			s.metrics.Sweeps.WithLabelValues("cancelled").Inc()
			log.Info().Int("done", i).Int("schemas", len(schemas)).Msg("guest sweep cancelled")
			return stats, nil
		}
		guests, out := s.sweepSchema(ctx, schema, stop)
		stats.Schemas++
		stats.Guests += guests
		if out.Failed() {
			stats.Failures++
		}
		if now := s.clock.Now(); now.Sub(lastProgress) >= s.cfg.ProgressInterval {
			lastProgress = now
			log.Info().
				Int("done", i+1).
				Int("schemas", len(schemas)).
				Int("guests", stats.Guests).
				Int("failures", stats.Failures).
				Msg("guest sweep progress")
		}
	}

	elapsed := s.clock.Now().Sub(start)
	s.metrics.Sweeps.WithLabelValues("completed").Inc()
	s.metrics.SweepDuration.Observe(elapsed.Seconds())
	log.Info().
		Int("schemas", stats.Schemas).
		Int("guests", stats.Guests).
		Int("failures", stats.Failures).
		Dur("elapsed", elapsed).
		Msg("guest sweep finished")
	return stats, nil
}

// sweepSchema enumerates one schema and runs its tasks, retrying the whole
// schema on transient failures with a linearly growing delay.
func (s *Sweeper) sweepSchema(ctx context.Context, schema string, stop <-chan struct{}) (int, guest.Outcome) {
	var (
		last   guest.Outcome
		guests int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if s.stopping(ctx) {
				return errSweepStopped
			}
			guests, last = s.runSchema(ctx, schema)
			if last.Kind == guest.OutcomeTransient {
				return last.Err
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, errSweepStopped)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt > s.cfg.MaxRetries {
				return
			}
			s.metrics.SweepRetries.Inc()
			log.Debug().Err(err).
				Str("schema", schema).
				Str("phase", last.Phase).
				Int("attempt", attempt).
				Msg("transient failure sweeping schema, retrying")
		},
		Attempts:    1 + s.cfg.MaxRetries,
		Delay:       s.cfg.RetryBase,
		BackoffFunc: s.backoff,
		Clock:       s.clock,
		Stop:        stop,
	})
	switch {
	case err == nil:
	case errors.Is(err, errSweepStopped), retry.IsRetryStopped(err):
		return guests, guest.OK()
	case retry.IsAttemptsExceeded(err):
		s.metrics.Failures.WithLabelValues(last.Kind.String()).Inc()
		log.Error().Err(last.Err).
			Str("schema", schema).
			Str("phase", last.Phase).
			Int("retries", s.cfg.MaxRetries).
			Msg("giving up on schema after retries")
		return guests, last
	default:
		s.metrics.Failures.WithLabelValues(guest.OutcomePermanent.String()).Inc()
		log.Error().Err(err).Str("schema", schema).Msg("guest sweep of schema failed")
		return guests, guest.Classify("sweep", err)
	}
	if last.Kind == guest.OutcomePermanent {
		s.metrics.Failures.WithLabelValues(last.Kind.String()).Inc()
		log.Error().Err(last.Err).
			Str("schema", schema).
			Str("phase", last.Phase).
			Msg("skipping schema after permanent failure")
	}
	return guests, last
}

func (s *Sweeper) backoff(_ time.Duration, attempt int) time.Duration {
	return s.cfg.RetryBase + time.Duration(attempt)*s.cfg.RetryIncrement
}

// runSchema executes every guest task of one schema synchronously. A
// transient guest failure aborts the schema so the retry covers it; a
// permanent one is logged and its siblings proceed.
func (s *Sweeper) runSchema(ctx context.Context, schema string) (int, guest.Outcome) {
	representative, err := s.partitions.RepresentativePartition(ctx, schema)
	if err != nil {
		out := guest.Classify("representative partition", err)
		if out.Kind == guest.OutcomeNotFound {
			return 0, guest.OK()
		}
		return 0, out
	}
	tasks, out := s.cleaner.EnumerateSchema(ctx, representative, s.cfg.GracePeriod)
	if out.Failed() {
		return 0, out
	}
	for _, task := range tasks {
		if s.stopping(ctx) {
			return len(tasks), guest.OK()
		}
		_, res := s.cleaner.CleanupGuest(ctx, task.Ref, task.GracePeriod)
		switch res.Kind {
		case guest.OutcomeTransient:
			return len(tasks), res
		case guest.OutcomePermanent:
			s.metrics.Failures.WithLabelValues(res.Kind.String()).Inc()
			logFailure(task.logFields, res)
		}
	}
	return len(tasks), guest.OK()
}

func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Stop asks a running sweep to finish at the next check and ends Run.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

func (s *Sweeper) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// stopSignal merges ctx cancellation and Stop into one channel for the retry
// loop. release must be called once the sweep is over.
func (s *Sweeper) stopSignal(ctx context.Context) (<-chan struct{}, func()) {
	out := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-quit:
			return
		}
		close(out)
	}()
	return out, func() { close(quit) }
}
