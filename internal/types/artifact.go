package types

import (
	"errors"
	"fmt"
)

// CheckInvariants verifies the structural rules every persisted artifact
// must satisfy. Hash self-consistency is checked separately by the digest
// package.
func (a *RunArtifact) CheckInvariants() error {
	if !a.RunID.Valid() {
		return fmt.Errorf("run_id %q is not a v7 uuid", a.RunID)
	}
	if a.Mode == "" || a.ToolID == "" {
		return errors.New("mode and tool_id are required")
	}
	if len(a.Feasibility) == 0 {
		return errors.New("feasibility payload is required")
	}
	if a.Hashes.Feasibility == "" {
		return errors.New("feasibility_hash is required")
	}
	if _, ok := ParseRiskLevel(string(a.Decision.RiskLevel)); !ok {
		return fmt.Errorf("decision.risk_level %q is not a risk bucket", a.Decision.RiskLevel)
	}

	switch a.Status {
	case StatusBlocked:
		if a.Decision.RiskLevel != RiskRed && a.Decision.RiskLevel != RiskUnknown {
			return fmt.Errorf("BLOCKED artifact with risk_level %s", a.Decision.RiskLevel)
		}
		if a.Decision.BlockReason == "" {
			return errors.New("BLOCKED artifact requires block_reason")
		}
		if a.Outputs != nil {
			return errors.New("BLOCKED artifact must not carry outputs")
		}
	case StatusOK:
		risky := a.Decision.RiskLevel == RiskRed || a.Decision.RiskLevel == RiskUnknown
		if risky && a.Decision.Override == nil {
			return fmt.Errorf("OK artifact with risk_level %s and no recorded override", a.Decision.RiskLevel)
		}
		if a.Decision.RiskLevel == RiskUnknown {
			return errors.New("UNKNOWN risk can never be overridden")
		}
		if a.Outputs == nil {
			return errors.New("OK artifact requires outputs")
		}
	case StatusError:
		if len(a.Errors) == 0 {
			return errors.New("ERROR artifact requires errors")
		}
		if a.Outputs != nil {
			return errors.New("ERROR artifact must not carry outputs")
		}
	default:
		return fmt.Errorf("status %q is not a run status", a.Status)
	}
	return nil
}
