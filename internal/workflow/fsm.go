// Package workflow tracks a design session through review, approval,
// toolpath generation and archival.
package workflow

import (
	"sort"

	"github.com/user/rungov/internal/types"
)

// State is a workflow session state.
type State string

const (
	Draft                  State = "DRAFT"
	ContextReady           State = "CONTEXT_READY"
	FeasibilityRequested   State = "FEASIBILITY_REQUESTED"
	FeasibilityReady       State = "FEASIBILITY_READY"
	Approved               State = "APPROVED"
	Rejected               State = "REJECTED"
	DesignRevisionRequired State = "DESIGN_REVISION_REQUIRED"
	ToolpathsRequested     State = "TOOLPATHS_REQUESTED"
	ToolpathsReady         State = "TOOLPATHS_READY"
	Archived               State = "ARCHIVED"
)

// Action names a transition.
type Action string

const (
	SetContext         Action = "set_context"
	RequestFeasibility Action = "request_feasibility"
	MarkFeasibility    Action = "feasibility_ready"
	Approve            Action = "approve"
	Reject             Action = "reject"
	RequireRevision    Action = "require_revision"
	RequestToolpaths   Action = "request_toolpaths"
	MarkToolpaths      Action = "toolpaths_ready"
	Archive            Action = "archive"
)

// transitions is the complete table. Any (state, action) pair missing here
// is illegal.
var transitions = map[State]map[Action]State{
	Draft: {
		SetContext: ContextReady,
	},
	ContextReady: {
		RequestFeasibility: FeasibilityRequested,
	},
	FeasibilityRequested: {
		MarkFeasibility: FeasibilityReady,
	},
	FeasibilityReady: {
		Approve:         Approved,
		Reject:          Rejected,
		RequireRevision: DesignRevisionRequired,
	},
	Approved: {
		RequestToolpaths: ToolpathsRequested,
	},
	Rejected: {
		Archive: Archived,
	},
	DesignRevisionRequired: {
		SetContext: ContextReady,
	},
	ToolpathsRequested: {
		MarkToolpaths: ToolpathsReady,
	},
	ToolpathsReady: {
		Archive: Archived,
	},
	Archived: {},
}

// States returns every state in table order.
func States() []State {
	return []State{
		Draft, ContextReady, FeasibilityRequested, FeasibilityReady, Approved,
		Rejected, DesignRevisionRequired, ToolpathsRequested, ToolpathsReady, Archived,
	}
}

// Actions returns every action.
func Actions() []Action {
	return []Action{
		SetContext, RequestFeasibility, MarkFeasibility, Approve, Reject,
		RequireRevision, RequestToolpaths, MarkToolpaths, Archive,
	}
}

// ParseState validates a state name.
func ParseState(s string) (State, bool) {
	_, ok := transitions[State(s)]
	return State(s), ok
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions() {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Next returns the state reached by applying a in from.
func Next(from State, a Action) (State, bool) {
	to, ok := transitions[from][a]
	return to, ok
}

// Allowed lists the actions legal in s, sorted.
func Allowed(s State) []Action {
	out := make([]Action, 0, len(transitions[s]))
	for a := range transitions[s] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Terminal reports whether no action leaves s.
func Terminal(s State) bool {
	return len(transitions[s]) == 0
}

// RequiresRunID reports whether a carries the run that justifies it.
func RequiresRunID(a Action) bool {
	return a == MarkFeasibility || a == MarkToolpaths
}

func illegal(id types.SessionID, s State, a Action) error {
	return &types.IllegalTransitionError{SessionID: id, State: string(s), Action: string(a)}
}
