package guestgc

import (
	"context"
	"fmt"

	"guest-gc/internal/guest"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// worker drains the queue one task at a time until ctx is cancelled or the
// queue is closed.
func (c *Coordinator) worker(ctx context.Context) {
	defer close(c.workerDone)
	for {
		task, err := c.queue.Take(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("guest cleanup worker stopped")
			return
		}
		c.metrics.QueueLength.Set(float64(c.queue.Len()))
		c.execute(ctx, task)
	}
}

func (c *Coordinator) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.Failures.WithLabelValues("panic").Inc()
			task.logFields(log.Error()).
				Str("panic", fmt.Sprint(r)).
				Msg("guest cleanup task panicked")
		}
	}()

	follow, out := task.Run(ctx, c.cleaner)
	if out.Failed() {
		c.metrics.Failures.WithLabelValues(out.Kind.String()).Inc()
		logFailure(task.logFields, out)
		return
	}
	for _, next := range follow {
		if err := c.submit(next); err != nil {
			next.logFields(log.Debug()).Err(err).Msg("dropping follow-up cleanup task")
		}
	}
}

func logFailure(fields func(*zerolog.Event) *zerolog.Event, out guest.Outcome) {
	ev := log.Error()
	if out.Kind == guest.OutcomeTransient {
		ev = log.Warn()
	}
	fields(ev).
		Err(out.Err).
		Str("phase", out.Phase).
		Str("kind", out.Kind.String()).
		Msg("guest cleanup task failed")
}
