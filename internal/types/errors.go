package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrConflict     = errors.New("concurrent update")
	ErrHashMismatch = errors.New("hash mismatch")
)

// ValidationError reports a malformed or incomplete request. RunID is set
// when the request got far enough to be audited.
type ValidationError struct {
	RunID  RunID
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// FeasibilityAdapterError means the scorer itself failed. It is distinct
// from a run that was scored unsafe.
type FeasibilityAdapterError struct {
	RunID RunID
	Mode  string
	Err   error
}

func (e *FeasibilityAdapterError) Error() string {
	return fmt.Sprintf("feasibility adapter for mode %q failed (run %s): %v", e.Mode, e.RunID, e.Err)
}

func (e *FeasibilityAdapterError) Unwrap() error { return e.Err }

// SafetyBlockedError is the expected outcome of an evaluation that concluded
// the operation must not proceed. The BLOCKED artifact exists before it is
// returned.
type SafetyBlockedError struct {
	RunID     RunID
	RiskLevel RiskLevel
	Reason    string
	Warnings  []string
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("run %s blocked (%s): %s", e.RunID, e.RiskLevel, e.Reason)
}

// CollaboratorError means toolpath generation failed after a safety pass.
type CollaboratorError struct {
	RunID RunID
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("toolpath generation failed (run %s): %v", e.RunID, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// StoreIntegrityError signals an ID collision or detected corruption. It is
// never retried.
type StoreIntegrityError struct {
	RunID  RunID
	Reason string
	Err    error
}

func (e *StoreIntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("store integrity violation")
	if e.RunID != "" {
		b.WriteString(" (run ")
		b.WriteString(string(e.RunID))
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreIntegrityError) Unwrap() error { return e.Err }

// IOError wraps a persistence failure. The caller may retry the whole
// request; the store never retries a write.
type IOError struct {
	RunID RunID
	Op    string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s (run %s): %v", e.Op, e.RunID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IllegalTransitionError reports a workflow action that the current state
// does not allow. The session is left unchanged.
type IllegalTransitionError struct {
	SessionID SessionID
	State     string
	Action    string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: action %q not allowed from state %s (session %s)", e.Action, e.State, e.SessionID)
}

// RunIDOf extracts the run ID carried by any of the typed errors above.
func RunIDOf(err error) (RunID, bool) {
	var (
		ve *ValidationError
		fe *FeasibilityAdapterError
		se *SafetyBlockedError
		ce *CollaboratorError
		ie *StoreIntegrityError
		oe *IOError
	)
	switch {
	case errors.As(err, &se):
		return se.RunID, se.RunID != ""
	case errors.As(err, &fe):
		return fe.RunID, fe.RunID != ""
	case errors.As(err, &ce):
		return ce.RunID, ce.RunID != ""
	case errors.As(err, &ve):
		return ve.RunID, ve.RunID != ""
	case errors.As(err, &ie):
		return ie.RunID, ie.RunID != ""
	case errors.As(err, &oe):
		return oe.RunID, oe.RunID != ""
	}
	return "", false
}
