package guest

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

var ErrCorruptToken = errors.New("corrupt share token")

// ValidateToken checks that a guest's share token can still be resolved.
// Tokens are ULIDs; anything else can never map back to a working guest.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrCorruptToken
	}
	if _, err := ulid.ParseStrict(token); err != nil {
		return errors.Join(ErrCorruptToken, err)
	}
	return nil
}
