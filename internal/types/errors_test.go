package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestRunIDOf(t *testing.T) {
	id := NewRunID()
	cases := []struct {
		name string
		err  error
	}{
		{"blocked", &SafetyBlockedError{RunID: id, RiskLevel: RiskRed, Reason: "too deep"}},
		{"adapter", &FeasibilityAdapterError{RunID: id, Mode: "saw", Err: errors.New("boom")}},
		{"collaborator", fmt.Errorf("run: %w", &CollaboratorError{RunID: id, Err: errors.New("cam down")})},
		{"validation", &ValidationError{RunID: id, Field: "override.actor", Reason: "required"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RunIDOf(tc.err)
			if !ok || got != id {
				t.Errorf("expected %s, got %q (ok=%v)", id, got, ok)
			}
		})
	}

	if _, ok := RunIDOf(errors.New("plain")); ok {
		t.Error("expected no run id for a plain error")
	}
	if _, ok := RunIDOf(&ValidationError{Field: "mode", Reason: "required"}); ok {
		t.Error("expected no run id for a validation error before auditing")
	}
}

func TestStoreIntegrityErrorUnwrap(t *testing.T) {
	err := &StoreIntegrityError{RunID: NewRunID(), Reason: "run id collision", Err: ErrDuplicateID}
	if !errors.Is(err, ErrDuplicateID) {
		t.Error("expected errors.Is to find ErrDuplicateID")
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, s := range []string{"GREEN", "YELLOW", "RED", "UNKNOWN"} {
		if _, ok := ParseRiskLevel(s); !ok {
			t.Errorf("expected %s to parse", s)
		}
	}
	if _, ok := ParseRiskLevel("green"); ok {
		t.Error("risk levels are case-sensitive")
	}
}
