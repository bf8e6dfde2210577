package guest

import (
	"fmt"
	"strings"
)

// PartitionID identifies one isolated tenant partition (a context).
type PartitionID int

// EntityID identifies a guest account inside a partition.
type EntityID int

// Ref addresses a single guest entity.
type Ref struct {
	Partition PartitionID
	Entity    EntityID
}

func (r Ref) String() string {
	return fmt.Sprintf("%d/%d", r.Partition, r.Entity)
}

type RecipientKind int

const (
	KindUnknown RecipientKind = iota
	KindAnonymous
	KindNamed
)

func ParseRecipientKind(v string) RecipientKind {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "anonymous":
		return KindAnonymous
	case "guest":
		return KindNamed
	default:
		return KindUnknown
	}
}

func (k RecipientKind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindNamed:
		return "guest"
	default:
		return "unknown"
	}
}

const (
	AttrLastTouched = "last-touched"
	AttrLinkExpiry  = "link-expiry"
)

// Guest is the directory record of an account created to hold shares.
type Guest struct {
	Ref
	Kind        RecipientKind
	RawKind     string
	Token       string
	Permissions Permission
	Attributes  map[string]string
}

func (g Guest) Attribute(name string) (string, bool) {
	if g.Attributes == nil {
		return "", false
	}
	v, ok := g.Attributes[name]
	return v, ok
}
