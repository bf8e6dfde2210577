package guestgc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"guest-gc/internal/debounce"
	"guest-gc/internal/guest"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped          = errors.New("guest cleanup stopped")
	ErrInvalidPartition = errors.New("invalid partition id")
	ErrInvalidGuest     = errors.New("invalid guest id")
	ErrShutdownTimeout  = errors.New("guest cleanup shutdown timed out")
)

type Deps struct {
	Store guest.Store
	// Lease is optional; without it every node sweeps on every tick.
	Lease      guest.SweepLease
	Clock      clock.Clock
	Registerer prometheus.Registerer
}

// Coordinator owns the debounced queue, its worker and the periodic sweeper.
// Trigger methods never block beyond queue insertion.
type Coordinator struct {
	cfg     Config
	metrics *Metrics
	cleaner *Cleaner
	queue   *debounce.Queue[Task]
	sweeper *Sweeper

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	workerDone chan struct{}
}

func NewCoordinator(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("guest cleanup requires a store")
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	for _, msg := range cfg.Normalize() {
		log.Warn().Msg("guest cleanup config: " + msg)
	}
	metrics := NewMetrics(deps.Registerer)
	cleaner := NewCleaner(deps.Store, deps.Clock, metrics)
	return &Coordinator{
		cfg:        cfg,
		metrics:    metrics,
		cleaner:    cleaner,
		queue:      debounce.New[Task](deps.Clock, cfg.Delay, cfg.MaxDelay),
		sweeper:    NewSweeper(cleaner, deps.Store, deps.Lease, deps.Clock, metrics, cfg),
		workerDone: make(chan struct{}),
	}, nil
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// Start launches the worker and, unless the sweep interval is zero, registers
// the periodic sweep. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	go c.worker(ctx)
	go c.sweeper.Run(ctx)
	log.Info().
		Dur("grace_period", c.cfg.GracePeriod).
		Dur("delay", c.cfg.Delay).
		Dur("max_delay", c.cfg.MaxDelay).
		Dur("sweep_interval", c.cfg.SweepInterval).
		Msg("guest cleanup started")
	return nil
}

// TriggerPartitionCleanup schedules a pass over every guest of partition.
func (c *Coordinator) TriggerPartitionCleanup(partition guest.PartitionID) error {
	if partition <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPartition, partition)
	}
	return c.submit(PartitionTask{Partition: partition, GracePeriod: c.cfg.GracePeriod})
}

// TriggerSchemaCleanup schedules a pass over every partition that shares a
// schema with representative.
func (c *Coordinator) TriggerSchemaCleanup(representative guest.PartitionID) error {
	if representative <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPartition, representative)
	}
	return c.submit(SchemaTask{Representative: representative, GracePeriod: c.cfg.GracePeriod})
}

// TriggerEntityCleanup schedules one task per guest. Arguments are validated
// before anything is enqueued.
func (c *Coordinator) TriggerEntityCleanup(partition guest.PartitionID, ids ...guest.EntityID) error {
	if partition <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPartition, partition)
	}
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidGuest, id)
		}
	}
	for _, id := range ids {
		task := EntityTask{Ref: guest.Ref{Partition: partition, Entity: id}, GracePeriod: c.cfg.GracePeriod}
		if err := c.submit(task); err != nil {
			return err
		}
	}
	return nil
}

// SweepNow runs one full sweep in the calling goroutine.
func (c *Coordinator) SweepNow(ctx context.Context) (guest.SweepStats, error) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return guest.SweepStats{}, ErrStopped
	}
	return c.sweeper.Sweep(ctx)
}

func (c *Coordinator) Sweeping() bool {
	return c.sweeper.Running()
}

func (c *Coordinator) submit(task Task) error {
	coalesced, err := c.queue.Submit(task)
	if errors.Is(err, debounce.ErrClosed) {
		return ErrStopped
	}
	if err != nil {
		return err
	}
	c.metrics.TasksSubmitted.Inc()
	if coalesced {
		c.metrics.TasksCoalesced.Inc()
	}
	c.metrics.QueueLength.Set(float64(c.queue.Len()))
	return nil
}

// Stop closes the queue, stops the sweeper and waits up to the shutdown
// timeout for in-flight work. Work still running after that is abandoned by
// cancelling its context; its transaction rolls back.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	c.queue.Close()
	c.sweeper.Stop()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.workerDone
		<-c.sweeper.Done()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()
	var err error
	select {
	case <-done:
	case <-timer.C:
		err = ErrShutdownTimeout
		log.Warn().Dur("timeout", c.cfg.ShutdownTimeout).Msg("abandoning in-flight guest cleanup")
	}
	cancel()
	log.Info().Msg("guest cleanup stopped")
	return err
}
