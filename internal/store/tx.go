package store

import (
	"context"
	"errors"

	"guest-gc/internal/guest"

	"github.com/jackc/pgx/v5"
)

// Begin opens a read-committed transaction for one cleanup decision.
func (s *Store) Begin(ctx context.Context) (guest.Tx, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

// Guest locks the guest row and loads it together with its attributes.
func (t *pgTx) Guest(ctx context.Context, ref guest.Ref) (guest.Guest, error) {
	var (
		kind  string
		token string
		bits  int64
	)
	err := t.tx.QueryRow(ctx, `
		SELECT u.recipient_kind, u.token, COALESCE(p.bits, 0)
		FROM guest_users u
		LEFT JOIN guest_permissions p ON p.partition_id = u.partition_id AND p.guest_id = u.id
		WHERE u.partition_id = $1 AND u.id = $2
		FOR UPDATE OF u`, int(ref.Partition), int(ref.Entity)).Scan(&kind, &token, &bits)
	if err != nil {
		return guest.Guest{}, classify(err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT name, value FROM guest_attributes
		WHERE partition_id = $1 AND guest_id = $2`, int(ref.Partition), int(ref.Entity))
	if err != nil {
		return guest.Guest{}, classify(err)
	}
	defer rows.Close()
	attrs := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return guest.Guest{}, classify(err)
		}
		attrs[name] = value
	}
	if err := rows.Err(); err != nil {
		return guest.Guest{}, classify(err)
	}

	return guest.Guest{
		Ref:         ref,
		Kind:        guest.ParseRecipientKind(kind),
		RawKind:     kind,
		Token:       token,
		Permissions: guest.Permission(bits),
		Attributes:  attrs,
	}, nil
}

func (t *pgTx) AccessibleModules(ctx context.Context, ref guest.Ref) ([]guest.ModuleID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT module FROM share_grants
		WHERE partition_id = $1 AND guest_id = $2
		ORDER BY module`, int(ref.Partition), int(ref.Entity))
	if err != nil {
		return nil, classify(err)
	}
	modules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (guest.ModuleID, error) {
		var m string
		err := row.Scan(&m)
		return guest.ModuleID(m), err
	})
	return modules, classify(err)
}

func (t *pgTx) SetAttribute(ctx context.Context, ref guest.Ref, name, value string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO guest_attributes (partition_id, guest_id, name, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition_id, guest_id, name) DO UPDATE SET value = EXCLUDED.value`,
		int(ref.Partition), int(ref.Entity), name, value)
	return classify(err)
}

func (t *pgTx) RemoveAttribute(ctx context.Context, ref guest.Ref, name string) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM guest_attributes
		WHERE partition_id = $1 AND guest_id = $2 AND name = $3`,
		int(ref.Partition), int(ref.Entity), name)
	return classify(err)
}

func (t *pgTx) SetPermissions(ctx context.Context, ref guest.Ref, bits guest.Permission) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO guest_permissions (partition_id, guest_id, bits)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition_id, guest_id) DO UPDATE SET bits = EXCLUDED.bits`,
		int(ref.Partition), int(ref.Entity), int64(bits))
	return classify(err)
}

func (t *pgTx) DeletePermissions(ctx context.Context, ref guest.Ref) error {
	return t.deleteFrom(ctx, "guest_permissions", ref)
}

func (t *pgTx) DeleteContact(ctx context.Context, ref guest.Ref) error {
	return t.deleteFrom(ctx, "guest_contacts", ref)
}

func (t *pgTx) DeleteAliases(ctx context.Context, ref guest.Ref) error {
	return t.deleteFrom(ctx, "guest_aliases", ref)
}

// DeleteAccount removes the guest row; attributes cascade.
func (t *pgTx) DeleteAccount(ctx context.Context, ref guest.Ref) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM guest_users WHERE partition_id = $1 AND id = $2`,
		int(ref.Partition), int(ref.Entity))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return guest.ErrNotFound
	}
	return nil
}

func (t *pgTx) deleteFrom(ctx context.Context, table string, ref guest.Ref) error {
	sql := `DELETE FROM ` + pgx.Identifier{table}.Sanitize() + ` WHERE partition_id = $1 AND guest_id = $2`
	_, err := t.tx.Exec(ctx, sql, int(ref.Partition), int(ref.Entity))
	return classify(err)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

// Rollback is safe to defer; it is a no-op after Commit.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
