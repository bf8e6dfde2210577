package store

import (
	"errors"
	"strings"

	"guest-gc/internal/guest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes worth another attempt: serialization and deadlock
// failures, lock timeouts, cancelled statements and exhausted connections.
var transientCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
	"57014": true,
	"53300": true,
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return guest.ErrNotFound
	}
	return err
}

// classify maps driver errors onto the guest error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	err = mapNotFound(err)
	if errors.Is(err, guest.ErrNotFound) {
		return err
	}
	if isTransient(err) {
		return guest.MarkTransient(err)
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions.
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
