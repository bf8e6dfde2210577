package store

import (
	"context"

	"guest-gc/internal/guest"

	"github.com/jackc/pgx/v5"
)

func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT schema_name FROM partitions ORDER BY schema_name`)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, classify(err)
}

// RepresentativePartition returns the lowest partition id stored in schema.
func (s *Store) RepresentativePartition(ctx context.Context, schema string) (guest.PartitionID, error) {
	var id int
	err := s.Pool.QueryRow(ctx, `SELECT min(id) FROM partitions WHERE schema_name = $1 HAVING count(*) > 0`, schema).Scan(&id)
	if err != nil {
		return 0, classify(err)
	}
	return guest.PartitionID(id), nil
}

func (s *Store) SchemaOf(ctx context.Context, partition guest.PartitionID) (string, error) {
	var schema string
	err := s.Pool.QueryRow(ctx, `SELECT schema_name FROM partitions WHERE id = $1`, int(partition)).Scan(&schema)
	if err != nil {
		return "", classify(err)
	}
	return schema, nil
}

func (s *Store) NeedsUpgrade(ctx context.Context, partition guest.PartitionID) (bool, error) {
	var needs bool
	err := s.Pool.QueryRow(ctx, `SELECT needs_upgrade FROM partitions WHERE id = $1`, int(partition)).Scan(&needs)
	if err != nil {
		return false, classify(err)
	}
	return needs, nil
}

func (s *Store) ListGuests(ctx context.Context, partition guest.PartitionID) ([]guest.Ref, error) {
	if _, err := s.SchemaOf(ctx, partition); err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT partition_id, id FROM guest_users
		WHERE partition_id = $1
		ORDER BY id`, int(partition))
	if err != nil {
		return nil, classify(err)
	}
	return collectRefs(rows)
}

func (s *Store) ListSchemaGuests(ctx context.Context, schema string) ([]guest.Ref, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT u.partition_id, u.id FROM guest_users u
		JOIN partitions p ON p.id = u.partition_id
		WHERE p.schema_name = $1
		ORDER BY u.partition_id, u.id`, schema)
	if err != nil {
		return nil, classify(err)
	}
	return collectRefs(rows)
}

func collectRefs(rows pgx.Rows) ([]guest.Ref, error) {
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (guest.Ref, error) {
		var p, e int
		err := row.Scan(&p, &e)
		return guest.Ref{Partition: guest.PartitionID(p), Entity: guest.EntityID(e)}, err
	})
	return refs, classify(err)
}
