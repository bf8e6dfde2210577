package guestgc

import (
	"context"
	"fmt"
	"time"

	"guest-gc/internal/guest"

	"github.com/rs/zerolog"
)

// Task is a unit of cleanup work. Tasks with the same Key are equal and
// coalesce in the queue. Run may return follow-up tasks to schedule.
type Task interface {
	Key() string
	Run(ctx context.Context, c *Cleaner) ([]Task, guest.Outcome)
	logFields(ev *zerolog.Event) *zerolog.Event
}

// EntityTask decides the fate of one guest.
type EntityTask struct {
	Ref         guest.Ref
	GracePeriod time.Duration
}

func (t EntityTask) Key() string {
	return fmt.Sprintf("guest:%d:%d", t.Ref.Partition, t.Ref.Entity)
}

func (t EntityTask) Run(ctx context.Context, c *Cleaner) ([]Task, guest.Outcome) {
	_, out := c.CleanupGuest(ctx, t.Ref, t.GracePeriod)
	return nil, out
}

func (t EntityTask) logFields(ev *zerolog.Event) *zerolog.Event {
	return ev.Str("task", "guest").Int("partition_id", int(t.Ref.Partition)).Int("guest_id", int(t.Ref.Entity))
}

// PartitionTask enumerates the guests of a single partition.
type PartitionTask struct {
	Partition   guest.PartitionID
	GracePeriod time.Duration
}

func (t PartitionTask) Key() string {
	return fmt.Sprintf("partition:%d", t.Partition)
}

func (t PartitionTask) Run(ctx context.Context, c *Cleaner) ([]Task, guest.Outcome) {
	tasks, out := c.EnumeratePartition(ctx, t.Partition, t.GracePeriod)
	return asTasks(tasks), out
}

func (t PartitionTask) logFields(ev *zerolog.Event) *zerolog.Event {
	return ev.Str("task", "partition").Int("partition_id", int(t.Partition))
}

// SchemaTask enumerates every partition sharing a schema, addressed through
// one of its partitions.
type SchemaTask struct {
	Representative guest.PartitionID
	GracePeriod    time.Duration
}

func (t SchemaTask) Key() string {
	return fmt.Sprintf("schema:%d", t.Representative)
}

func (t SchemaTask) Run(ctx context.Context, c *Cleaner) ([]Task, guest.Outcome) {
	tasks, out := c.EnumerateSchema(ctx, t.Representative, t.GracePeriod)
	return asTasks(tasks), out
}

func (t SchemaTask) logFields(ev *zerolog.Event) *zerolog.Event {
	return ev.Str("task", "schema").Int("partition_id", int(t.Representative))
}

func asTasks(in []EntityTask) []Task {
	if len(in) == 0 {
		return nil
	}
	out := make([]Task, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}
