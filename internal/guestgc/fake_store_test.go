package guestgc

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"guest-gc/internal/guest"

	"github.com/oklog/ulid/v2"
)

// fakeStore is an in-memory guest directory. Transactions buffer their
// writes and apply them on Commit.
type fakeStore struct {
	mu         sync.Mutex
	schemas    []string
	partitions map[guest.PartitionID]string
	upgrading  map[guest.PartitionID]bool
	guests     map[guest.Ref]*guest.Guest
	modules    map[guest.Ref][]guest.ModuleID

	// stepErr injects a failure into a deletion step by name.
	stepErr map[string]error
	// schemaFailures makes ListSchemaGuests fail with schemaErr this many times.
	schemaFailures map[string]int
	schemaErr      error
	onListSchema   func(schema string)

	schemaCalls map[string]int
	steps       map[guest.Ref][]string
	deleted     []guest.Ref
	commits     int
	rollbacks   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		partitions:     map[guest.PartitionID]string{},
		upgrading:      map[guest.PartitionID]bool{},
		guests:         map[guest.Ref]*guest.Guest{},
		modules:        map[guest.Ref][]guest.ModuleID{},
		stepErr:        map[string]error{},
		schemaFailures: map[string]int{},
		schemaCalls:    map[string]int{},
		steps:          map[guest.Ref][]string{},
	}
}

func (s *fakeStore) addPartition(schema string, p guest.PartitionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsString(s.schemas, schema) {
		s.schemas = append(s.schemas, schema)
	}
	s.partitions[p] = schema
}

func (s *fakeStore) addGuest(ref guest.Ref, kind guest.RecipientKind, modules ...guest.ModuleID) *guest.Guest {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &guest.Guest{
		Ref:         ref,
		Kind:        kind,
		RawKind:     kind.String(),
		Token:       ulid.Make().String(),
		Permissions: guest.RequiredPermissions(modules),
		Attributes:  map[string]string{},
	}
	s.guests[ref] = g
	s.modules[ref] = modules
	return g
}

func (s *fakeStore) setModules(ref guest.Ref, modules ...guest.ModuleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[ref] = modules
}

func (s *fakeStore) get(ref guest.Ref) (guest.Guest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guests[ref]
	if !ok {
		return guest.Guest{}, false
	}
	return copyGuest(g), true
}

func (s *fakeStore) exists(ref guest.Ref) bool {
	_, ok := s.get(ref)
	return ok
}

func (s *fakeStore) calls(schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaCalls[schema]
}

func (s *fakeStore) ListGuests(_ context.Context, partition guest.PartitionID) ([]guest.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		return nil, guest.ErrNotFound
	}
	return s.refsLocked(func(p guest.PartitionID) bool { return p == partition }), nil
}

func (s *fakeStore) ListSchemaGuests(_ context.Context, schema string) ([]guest.Ref, error) {
	s.mu.Lock()
	s.schemaCalls[schema]++
	hook := s.onListSchema
	if s.schemaFailures[schema] > 0 {
		s.schemaFailures[schema]--
		err := s.schemaErr
		s.mu.Unlock()
		return nil, err
	}
	refs := s.refsLocked(func(p guest.PartitionID) bool { return s.partitions[p] == schema })
	s.mu.Unlock()
	if hook != nil {
		hook(schema)
	}
	return refs, nil
}

func (s *fakeStore) refsLocked(match func(guest.PartitionID) bool) []guest.Ref {
	var refs []guest.Ref
	for ref := range s.guests {
		if match(ref.Partition) {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Partition != refs[j].Partition {
			return refs[i].Partition < refs[j].Partition
		}
		return refs[i].Entity < refs[j].Entity
	})
	return refs
}

func (s *fakeStore) ListSchemas(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.schemas...), nil
}

func (s *fakeStore) RepresentativePartition(_ context.Context, schema string) (guest.PartitionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best guest.PartitionID
	for p, sc := range s.partitions {
		if sc == schema && (best == 0 || p < best) {
			best = p
		}
	}
	if best == 0 {
		return 0, guest.ErrNotFound
	}
	return best, nil
}

func (s *fakeStore) SchemaOf(_ context.Context, partition guest.PartitionID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.partitions[partition]
	if !ok {
		return "", guest.ErrNotFound
	}
	return schema, nil
}

func (s *fakeStore) NeedsUpgrade(_ context.Context, partition guest.PartitionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		return false, guest.ErrNotFound
	}
	return s.upgrading[partition], nil
}

func (s *fakeStore) Begin(context.Context) (guest.Tx, error) {
	return &fakeTx{s: s}, nil
}

type fakeTx struct {
	s      *fakeStore
	ops    []func()
	closed bool
}

func (tx *fakeTx) Guest(_ context.Context, ref guest.Ref) (guest.Guest, error) {
	g, ok := tx.s.get(ref)
	if !ok {
		return guest.Guest{}, guest.ErrNotFound
	}
	return g, nil
}

func (tx *fakeTx) AccessibleModules(_ context.Context, ref guest.Ref) ([]guest.ModuleID, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return append([]guest.ModuleID(nil), tx.s.modules[ref]...), nil
}

func (tx *fakeTx) SetAttribute(_ context.Context, ref guest.Ref, name, value string) error {
	tx.ops = append(tx.ops, func() {
		if g, ok := tx.s.guests[ref]; ok {
			g.Attributes[name] = value
		}
	})
	return nil
}

func (tx *fakeTx) RemoveAttribute(_ context.Context, ref guest.Ref, name string) error {
	tx.ops = append(tx.ops, func() {
		if g, ok := tx.s.guests[ref]; ok {
			delete(g.Attributes, name)
		}
	})
	return nil
}

func (tx *fakeTx) SetPermissions(_ context.Context, ref guest.Ref, bits guest.Permission) error {
	tx.ops = append(tx.ops, func() {
		if g, ok := tx.s.guests[ref]; ok {
			g.Permissions = bits
		}
	})
	return nil
}

func (tx *fakeTx) step(ref guest.Ref, name string, apply func()) error {
	tx.s.mu.Lock()
	err := tx.s.stepErr[name]
	tx.s.mu.Unlock()
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, func() {
		tx.s.steps[ref] = append(tx.s.steps[ref], name)
		if apply != nil {
			apply()
		}
	})
	return nil
}

func (tx *fakeTx) DeletePermissions(_ context.Context, ref guest.Ref) error {
	return tx.step(ref, "permissions", func() {
		if g, ok := tx.s.guests[ref]; ok {
			g.Permissions = 0
		}
	})
}

func (tx *fakeTx) DeleteContact(_ context.Context, ref guest.Ref) error {
	return tx.step(ref, "contact", nil)
}

func (tx *fakeTx) DeleteAliases(_ context.Context, ref guest.Ref) error {
	return tx.step(ref, "aliases", nil)
}

func (tx *fakeTx) DeleteAccount(_ context.Context, ref guest.Ref) error {
	return tx.step(ref, "account", func() {
		delete(tx.s.guests, ref)
		delete(tx.s.modules, ref)
		tx.s.deleted = append(tx.s.deleted, ref)
	})
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	tx.ops = nil
	tx.closed = true
	tx.s.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.ops = nil
	tx.s.mu.Lock()
	tx.s.rollbacks++
	tx.s.mu.Unlock()
	return nil
}

type fakeLease struct {
	mu       sync.Mutex
	claimed  map[time.Time]string
	finished map[time.Time]guest.SweepStats
}

func newFakeLease() *fakeLease {
	return &fakeLease{claimed: map[time.Time]string{}, finished: map[time.Time]guest.SweepStats{}}
}

func (l *fakeLease) ClaimSweep(_ context.Context, _ string, slot time.Time, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claimed[slot]; ok {
		return false, nil
	}
	l.claimed[slot] = owner
	return true, nil
}

func (l *fakeLease) FinishSweep(_ context.Context, _ string, slot time.Time, stats guest.SweepStats) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[slot] = stats
	return nil
}

func (l *fakeLease) finishedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.finished)
}

func copyGuest(g *guest.Guest) guest.Guest {
	out := *g
	out.Attributes = make(map[string]string, len(g.Attributes))
	for k, v := range g.Attributes {
		out.Attributes[k] = v
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
