package guest

import (
	"context"
	"time"
)

type Directory interface {
	// ListGuests returns ErrNotFound when the partition no longer exists.
	ListGuests(ctx context.Context, partition PartitionID) ([]Ref, error)
	// ListSchemaGuests returns every guest of every partition in schema,
	// ordered by partition.
	ListSchemaGuests(ctx context.Context, schema string) ([]Ref, error)
}

type Partitions interface {
	ListSchemas(ctx context.Context) ([]string, error)
	RepresentativePartition(ctx context.Context, schema string) (PartitionID, error)
	// SchemaOf returns ErrNotFound when the partition no longer exists.
	SchemaOf(ctx context.Context, partition PartitionID) (string, error)
}

type Upgrades interface {
	NeedsUpgrade(ctx context.Context, partition PartitionID) (bool, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work against one connection. Guest locks the row for the
// rest of the transaction; every decision is taken against what it returns.
type Tx interface {
	Guest(ctx context.Context, ref Ref) (Guest, error)
	AccessibleModules(ctx context.Context, ref Ref) ([]ModuleID, error)
	SetAttribute(ctx context.Context, ref Ref, name, value string) error
	RemoveAttribute(ctx context.Context, ref Ref, name string) error
	SetPermissions(ctx context.Context, ref Ref, bits Permission) error

	DeletePermissions(ctx context.Context, ref Ref) error
	DeleteContact(ctx context.Context, ref Ref) error
	DeleteAliases(ctx context.Context, ref Ref) error
	DeleteAccount(ctx context.Context, ref Ref) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store bundles every collaborator the collector reads from.
type Store interface {
	Directory
	Partitions
	Upgrades
	TxBeginner
}

type SweepStats struct {
	Schemas  int
	Guests   int
	Failures int
}

// SweepLease elects one node per sweep slot across a cluster.
type SweepLease interface {
	ClaimSweep(ctx context.Context, job string, slot time.Time, owner string) (bool, error)
	FinishSweep(ctx context.Context, job string, slot time.Time, stats SweepStats) error
}
