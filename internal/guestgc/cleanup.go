package guestgc

import (
	"context"
	"errors"
	"time"

	"guest-gc/internal/guest"

	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

type Action string

const (
	ActionNone        Action = "none"
	ActionGone        Action = "gone"
	ActionDeleted     Action = "deleted"
	ActionMarked      Action = "marked"
	ActionUnmarked    Action = "unmarked"
	ActionPermissions Action = "permissions"
	ActionSkipped     Action = "skipped"
)

// Cleaner runs the per-guest decision and the enumeration jobs. It holds no
// state between runs; every decision is recomputed from the store.
type Cleaner struct {
	store   guest.Store
	clock   clock.Clock
	metrics *Metrics
}

func NewCleaner(st guest.Store, clk clock.Clock, metrics *Metrics) *Cleaner {
	if clk == nil {
		clk = clock.WallClock
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Cleaner{store: st, clock: clk, metrics: metrics}
}

// CleanupGuest loads the guest under a transaction, inspects its remaining
// shares and deletes, marks, unmarks or re-permissions it. The transaction is
// committed only when every mutation succeeded.
func (c *Cleaner) CleanupGuest(ctx context.Context, ref guest.Ref, grace time.Duration) (Action, guest.Outcome) {
	action, out := c.cleanupGuest(ctx, ref, grace)
	if !out.Failed() {
		c.metrics.Actions.WithLabelValues(string(action)).Inc()
	}
	return action, out
}

func (c *Cleaner) cleanupGuest(ctx context.Context, ref guest.Ref, grace time.Duration) (Action, guest.Outcome) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return ActionNone, guest.Classify("begin", err)
	}
	defer tx.Rollback(ctx)

	g, err := tx.Guest(ctx, ref)
	if errors.Is(err, guest.ErrNotFound) {
		return ActionGone, guest.Classify("load", err)
	}
	if err != nil {
		return ActionNone, guest.Classify("load", err)
	}

	action, phase, err := c.decide(ctx, tx, g, grace)
	if err != nil {
		return ActionNone, guest.Classify(phase, err)
	}
	if action == ActionNone || action == ActionSkipped {
		return action, guest.OK()
	}
	if err := tx.Commit(ctx); err != nil {
		return ActionNone, guest.Classify("commit", err)
	}
	log.Debug().
		Int("partition_id", int(ref.Partition)).
		Int("guest_id", int(ref.Entity)).
		Str("kind", g.Kind.String()).
		Str("action", string(action)).
		Msg("guest cleanup decision applied")
	return action, guest.OK()
}

func (c *Cleaner) decide(ctx context.Context, tx guest.Tx, g guest.Guest, grace time.Duration) (Action, string, error) {
	if err := guest.ValidateToken(g.Token); err != nil {
		log.Warn().Err(err).
			Int("partition_id", int(g.Partition)).
			Int("guest_id", int(g.Entity)).
			Msg("guest token unresolvable, deleting guest")
		return c.delete(ctx, tx, g.Ref)
	}

	modules, err := tx.AccessibleModules(ctx, g.Ref)
	if err != nil {
		return ActionNone, "shares", err
	}
	modules = guest.SortModules(modules)
	for _, m := range modules {
		if !guest.KnownModule(m) {
			log.Debug().
				Int("partition_id", int(g.Partition)).
				Int("guest_id", int(g.Entity)).
				Str("module", string(m)).
				Msg("share on unrecognised module grants no permission")
		}
	}
	now := c.clock.Now()

	if len(modules) == 0 {
		if g.Kind == guest.KindAnonymous || grace <= 0 {
			return c.delete(ctx, tx, g.Ref)
		}
		switch g.Kind {
		case guest.KindNamed:
			touched, ok, err := guest.LastTouchedMarker.Read(g)
			if err != nil {
				log.Warn().Err(err).
					Int("partition_id", int(g.Partition)).
					Int("guest_id", int(g.Entity)).
					Msg("resetting malformed last-touched marker")
			}
			if !ok {
				if err := guest.LastTouchedMarker.Set(ctx, tx, g.Ref, now); err != nil {
					return ActionNone, "mark", err
				}
				return ActionMarked, "", nil
			}
			if now.Sub(touched) >= grace {
				return c.delete(ctx, tx, g.Ref)
			}
			return ActionNone, "", nil
		default:
			log.Warn().
				Int("partition_id", int(g.Partition)).
				Int("guest_id", int(g.Entity)).
				Str("kind", g.RawKind).
				Msg("unknown recipient kind, skipping guest")
			return ActionSkipped, "", nil
		}
	}

	if g.Kind == guest.KindAnonymous {
		expiry, ok, err := guest.LinkExpiryMarker.Read(g)
		if err != nil {
			log.Warn().Err(err).
				Int("partition_id", int(g.Partition)).
				Int("guest_id", int(g.Entity)).
				Msg("ignoring malformed link expiry")
		}
		if ok && expiry.Before(now) {
			return c.delete(ctx, tx, g.Ref)
		}
	}

	action := ActionNone
	if want := guest.RequiredPermissions(modules); want != g.Permissions {
		if err := tx.SetPermissions(ctx, g.Ref, want); err != nil {
			return ActionNone, "permissions", err
		}
		action = ActionPermissions
	}
	if _, marked := g.Attribute(guest.AttrLastTouched); marked {
		if err := guest.LastTouchedMarker.Clear(ctx, tx, g.Ref); err != nil {
			return ActionNone, "unmark", err
		}
		action = ActionUnmarked
	}
	return action, "", nil
}

// delete removes the guest and its dependent records in a fixed order. A step
// finding nothing to delete counts as done.
func (c *Cleaner) delete(ctx context.Context, tx guest.Tx, ref guest.Ref) (Action, string, error) {
	steps := []struct {
		phase string
		run   func(context.Context, guest.Ref) error
	}{
		{"delete permissions", tx.DeletePermissions},
		{"delete contact", tx.DeleteContact},
		{"delete aliases", tx.DeleteAliases},
		{"delete account", tx.DeleteAccount},
	}
	for _, step := range steps {
		if err := step.run(ctx, ref); err != nil && !errors.Is(err, guest.ErrNotFound) {
			return ActionNone, step.phase, err
		}
	}
	return ActionDeleted, "", nil
}
