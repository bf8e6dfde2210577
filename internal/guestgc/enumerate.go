package guestgc

import (
	"context"
	"sort"
	"time"

	"guest-gc/internal/guest"

	"github.com/rs/zerolog/log"
)

// EnumeratePartition lists the guests of one partition and returns one task
// per guest without running them. A partition that is being upgraded or no
// longer exists yields no tasks.
func (c *Cleaner) EnumeratePartition(ctx context.Context, partition guest.PartitionID, grace time.Duration) ([]EntityTask, guest.Outcome) {
	if skip, out := c.upgrading(ctx, partition); skip || out.Failed() {
		return nil, out
	}
	refs, err := c.store.ListGuests(ctx, partition)
	if err != nil {
		return nil, guest.Classify("list guests", err)
	}
	return entityTasks(refs, grace), guest.OK()
}

// EnumerateSchema does the same for every partition stored in the schema of
// representative. Tasks come back grouped by partition. Guests of partitions
// pending upgrade are left out.
func (c *Cleaner) EnumerateSchema(ctx context.Context, representative guest.PartitionID, grace time.Duration) ([]EntityTask, guest.Outcome) {
	schema, err := c.store.SchemaOf(ctx, representative)
	if err != nil {
		return nil, guest.Classify("resolve schema", err)
	}
	if skip, out := c.upgrading(ctx, representative); skip || out.Failed() {
		return nil, out
	}
	refs, err := c.store.ListSchemaGuests(ctx, schema)
	if err != nil {
		return nil, guest.Classify("list schema guests", err)
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Partition < refs[j].Partition })
	refs, out := c.dropUpgrading(ctx, refs, representative)
	if out.Failed() {
		return nil, out
	}
	return entityTasks(refs, grace), guest.OK()
}

// dropUpgrading filters refs, which must be grouped by partition, down to
// partitions that are not pending upgrade. checked was already found clear.
func (c *Cleaner) dropUpgrading(ctx context.Context, refs []guest.Ref, checked guest.PartitionID) ([]guest.Ref, guest.Outcome) {
	kept := refs[:0]
	var current guest.PartitionID
	skip := false
	for _, ref := range refs {
		if ref.Partition != current {
			current = ref.Partition
			skip = false
			if current != checked {
				var out guest.Outcome
				if skip, out = c.upgrading(ctx, current); out.Failed() {
					return nil, out
				}
			}
		}
		if !skip {
			kept = append(kept, ref)
		}
	}
	return kept, guest.OK()
}

func (c *Cleaner) upgrading(ctx context.Context, partition guest.PartitionID) (bool, guest.Outcome) {
	needs, err := c.store.NeedsUpgrade(ctx, partition)
	if err != nil {
		out := guest.Classify("upgrade status", err)
		return out.Kind == guest.OutcomeNotFound, out
	}
	if needs {
		log.Info().Int("partition_id", int(partition)).Msg("partition pending upgrade, skipping guest cleanup")
		return true, guest.OK()
	}
	return false, guest.OK()
}

func entityTasks(refs []guest.Ref, grace time.Duration) []EntityTask {
	if len(refs) == 0 {
		return nil
	}
	tasks := make([]EntityTask, 0, len(refs))
	for _, ref := range refs {
		tasks = append(tasks, EntityTask{Ref: ref, GracePeriod: grace})
	}
	return tasks
}
