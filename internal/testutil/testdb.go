package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"guest-gc/internal/config"
	"guest-gc/internal/guest"
	"guest-gc/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var testSchemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OpenTestStore opens a store on a throwaway schema of TEST_POSTGRES_DSN with
// the init migration applied. The test is skipped when no DSN is configured.
func OpenTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	dsn := cfg.TestPostgresDSN
	schema := fmt.Sprintf("guestgc_test_%d", time.Now().UnixNano())
	base, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open base db: %v", err)
	}
	createSchemaSQL, err := schemaDDL("CREATE SCHEMA %s", schema)
	if err != nil {
		base.Close()
		t.Fatalf("invalid schema name: %v", err)
	}
	if _, err := base.Exec(context.Background(), createSchemaSQL); err != nil {
		base.Close()
		t.Fatalf("create schema: %v", err)
	}
	base.Close()

	dsnWithSchema := withSearchPath(dsn, schema)
	st, err := store.New(dsnWithSchema)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := applySchema(st); err != nil {
		st.Close()
		t.Fatalf("apply schema: %v", err)
	}

	cleanup := func() {
		st.Close()
		base, err := pgxpool.New(context.Background(), dsn)
		if err == nil {
			if dropSchemaSQL, ddlErr := schemaDDL("DROP SCHEMA %s CASCADE", schema); ddlErr == nil {
				_, _ = base.Exec(context.Background(), dropSchemaSQL)
			}
			base.Close()
		}
	}
	return st, cleanup
}

func applySchema(st *store.Store) error {
	path, err := findInitMigrationPath()
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = st.Pool.Exec(context.Background(), string(b))
	return err
}

func findInitMigrationPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, "migrations", "000001_init.up.sql")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("000001_init.up.sql not found from %s", dir)
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}

func schemaDDL(format, schema string) (string, error) {
	if !testSchemaNamePattern.MatchString(schema) {
		return "", fmt.Errorf("schema %q does not match required pattern", schema)
	}
	return fmt.Sprintf(format, pgx.Identifier{schema}.Sanitize()), nil
}

// SeedPartition inserts a partition stored in schema.
func SeedPartition(t *testing.T, st *store.Store, id guest.PartitionID, schema string) {
	t.Helper()
	_, err := st.Pool.Exec(context.Background(),
		`INSERT INTO partitions (id, schema_name) VALUES ($1, $2)`, int(id), schema)
	if err != nil {
		t.Fatalf("seed partition %d: %v", id, err)
	}
}

func MarkUpgrading(t *testing.T, st *store.Store, id guest.PartitionID) {
	t.Helper()
	_, err := st.Pool.Exec(context.Background(),
		`UPDATE partitions SET needs_upgrade = TRUE WHERE id = $1`, int(id))
	if err != nil {
		t.Fatalf("mark partition %d upgrading: %v", id, err)
	}
}

// SeedGuest inserts a guest with a fresh token, a contact, one alias and the
// permission bits its shares need.
func SeedGuest(t *testing.T, st *store.Store, ref guest.Ref, kind string, modules ...guest.ModuleID) {
	t.Helper()
	ctx := context.Background()
	p, e := int(ref.Partition), int(ref.Entity)
	type stmt struct {
		sql  string
		args []any
	}
	stmts := []stmt{
		{`INSERT INTO guest_users (partition_id, id, recipient_kind, token) VALUES ($1, $2, $3, $4)`, []any{p, e, kind, store.NewID()}},
		{`INSERT INTO guest_permissions (partition_id, guest_id, bits) VALUES ($1, $2, $3)`, []any{p, e, int64(guest.RequiredPermissions(modules))}},
		{`INSERT INTO guest_contacts (partition_id, guest_id, display_name, email) VALUES ($1, $2, $3, $4)`, []any{p, e, "Guest", fmt.Sprintf("guest%d@example.com", e)}},
		{`INSERT INTO guest_aliases (partition_id, guest_id, alias) VALUES ($1, $2, $3)`, []any{p, e, fmt.Sprintf("g%d-%d", p, e)}},
	}
	for _, m := range modules {
		stmts = append(stmts, stmt{`INSERT INTO share_grants (partition_id, guest_id, module, target) VALUES ($1, $2, $3, $4)`, []any{p, e, string(m), "folder-1"}})
	}
	for _, s := range stmts {
		if _, err := st.Pool.Exec(ctx, s.sql, s.args...); err != nil {
			t.Fatalf("seed guest %s: %v", ref, err)
		}
	}
}

func SetGuestAttribute(t *testing.T, st *store.Store, ref guest.Ref, name, value string) {
	t.Helper()
	_, err := st.Pool.Exec(context.Background(), `
		INSERT INTO guest_attributes (partition_id, guest_id, name, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition_id, guest_id, name) DO UPDATE SET value = EXCLUDED.value`,
		int(ref.Partition), int(ref.Entity), name, value)
	if err != nil {
		t.Fatalf("set attribute %s on %s: %v", name, ref, err)
	}
}

// CountRows returns how many rows of table belong to ref.
func CountRows(t *testing.T, st *store.Store, table string, ref guest.Ref) int {
	t.Helper()
	col := "guest_id"
	if table == "guest_users" {
		col = "id"
	}
	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE partition_id = $1 AND %s = $2`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{col}.Sanitize())
	var n int
	if err := st.Pool.QueryRow(context.Background(), sql, int(ref.Partition), int(ref.Entity)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
