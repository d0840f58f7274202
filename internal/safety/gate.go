// Package safety maps computed risk to an allow, warn or block verdict.
package safety

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/user/rungov/internal/types"
)

// Action is the gate's verdict.
type Action string

const (
	Allow Action = "ALLOW"
	Warn  Action = "WARN"
	Block Action = "BLOCK"
)

// Verdict is the output of Decide. Reason is empty for Allow.
type Verdict struct {
	Action Action
	Reason string
}

// Decide is the pure gate function. RED and UNKNOWN block for every mode;
// anything unrecognised blocks too.
func Decide(mode string, risk types.RiskLevel) Verdict {
	switch risk {
	case types.RiskGreen:
		return Verdict{Action: Allow}
	case types.RiskYellow:
		return Verdict{Action: Warn, Reason: fmt.Sprintf("mode %s scored YELLOW; proceeding with warnings", mode)}
	case types.RiskRed:
		return Verdict{Action: Block, Reason: fmt.Sprintf("mode %s scored RED", mode)}
	case types.RiskUnknown:
		return Verdict{Action: Block, Reason: fmt.Sprintf("mode %s feasibility is UNKNOWN", mode)}
	default:
		return Verdict{Action: Block, Reason: fmt.Sprintf("mode %s has unrecognised risk level %q", mode, risk)}
	}
}

// Policy is an immutable snapshot of operator-controlled safety settings.
type Policy struct {
	AllowRedOverride bool
}

// OverrideRequest names who wants a block lifted, and why.
type OverrideRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// Gate pairs Decide with the current policy snapshot. The snapshot is
// replaced whole, never mutated.
type Gate struct {
	policy atomic.Pointer[Policy]
}

// NewGate creates a gate with the given starting policy.
func NewGate(p Policy) *Gate {
	g := &Gate{}
	g.policy.Store(&p)
	return g
}

// Policy returns the current snapshot.
func (g *Gate) Policy() Policy {
	return *g.policy.Load()
}

// SetPolicy installs a new snapshot and returns the previous one.
func (g *Gate) SetPolicy(p Policy) Policy {
	return *g.policy.Swap(&p)
}

// Decide delegates to the pure gate function.
func (g *Gate) Decide(mode string, risk types.RiskLevel) Verdict {
	return Decide(mode, risk)
}

// Override checks whether a BLOCK verdict may be lifted. Only RED may ever
// be overridden, only when policy allows it, and only with a named actor and
// reason. The returned record is stored on the artifact.
func (g *Gate) Override(risk types.RiskLevel, v Verdict, req *OverrideRequest) (*types.Override, error) {
	if req == nil {
		return nil, nil
	}
	if v.Action != Block {
		return nil, nil
	}
	if !g.Policy().AllowRedOverride {
		return nil, errors.New("overrides are disabled")
	}
	if risk != types.RiskRed {
		return nil, fmt.Errorf("risk level %s cannot be overridden", risk)
	}
	actor := strings.TrimSpace(req.Actor)
	reason := strings.TrimSpace(req.Reason)
	if actor == "" || reason == "" {
		return nil, errors.New("override requires actor and reason")
	}
	return &types.Override{Actor: actor, Reason: reason, Overridden: string(Block)}, nil
}
