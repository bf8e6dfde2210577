package guest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Marker is a single timestamp-valued attribute on a guest entity, stored as
// Unix milliseconds.
type Marker struct {
	Name string
}

var (
	LastTouchedMarker = Marker{Name: AttrLastTouched}
	LinkExpiryMarker  = Marker{Name: AttrLinkExpiry}
)

// Read returns the stored timestamp. ok is false when the attribute is absent.
// A present but unparseable value yields an error and ok=false.
func (m Marker) Read(g Guest) (time.Time, bool, error) {
	raw, ok := g.Attribute(m.Name)
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s attribute %q: %w", m.Name, raw, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (m Marker) Set(ctx context.Context, tx Tx, ref Ref, at time.Time) error {
	return tx.SetAttribute(ctx, ref, m.Name, FormatMillis(at))
}

func (m Marker) Clear(ctx context.Context, tx Tx, ref Ref) error {
	return tx.RemoveAttribute(ctx, ref, m.Name)
}

func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
