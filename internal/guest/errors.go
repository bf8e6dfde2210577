package guest

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient flags err as worth retrying (lock contention, lost connection).
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	var te *transientError
	if errors.As(err, &te) {
		return err
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeNotFound
	OutcomeTransient
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Outcome is the typed result of one unit of cleanup work.
type Outcome struct {
	Kind  OutcomeKind
	Phase string
	Err   error
}

func OK() Outcome { return Outcome{Kind: OutcomeOK} }

// Classify maps err, raised during phase, onto the outcome taxonomy.
func Classify(phase string, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeOK}
	case errors.Is(err, ErrNotFound):
		return Outcome{Kind: OutcomeNotFound, Phase: phase}
	case IsTransient(err):
		return Outcome{Kind: OutcomeTransient, Phase: phase, Err: err}
	default:
		return Outcome{Kind: OutcomePermanent, Phase: phase, Err: err}
	}
}

// Failed is true for transient and permanent outcomes. NotFound is success.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeTransient || o.Kind == OutcomePermanent
}

func (o Outcome) Error() error {
	if !o.Failed() {
		return nil
	}
	return fmt.Errorf("%s: %w", o.Phase, o.Err)
}
