package types

import (
	"encoding/json"
	"time"
)

// RiskLevel is the coarse bucket produced by feasibility scoring.
type RiskLevel string

const (
	RiskGreen   RiskLevel = "GREEN"
	RiskYellow  RiskLevel = "YELLOW"
	RiskRed     RiskLevel = "RED"
	RiskUnknown RiskLevel = "UNKNOWN"
)

// ParseRiskLevel validates and parses a risk bucket.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskGreen, RiskYellow, RiskRed, RiskUnknown:
		return RiskLevel(s), true
	default:
		return "", false
	}
}

// RunStatus is the terminal outcome of a governed run. It is set once, at
// creation.
type RunStatus string

const (
	StatusOK      RunStatus = "OK"
	StatusBlocked RunStatus = "BLOCKED"
	StatusError   RunStatus = "ERROR"
)

// ParseRunStatus validates and parses a run status.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case StatusOK, StatusBlocked, StatusError:
		return RunStatus(s), true
	default:
		return "", false
	}
}

// Override records who allowed a blocked run to proceed, and why.
type Override struct {
	Actor      string `json:"actor"`
	Reason     string `json:"reason"`
	Overridden string `json:"overridden"`
}

// Decision is the safety gate's output as recorded on an artifact.
type Decision struct {
	RiskLevel   RiskLevel `json:"risk_level"`
	Score       *float64  `json:"score,omitempty"`
	Action      string    `json:"action,omitempty"`
	BlockReason string    `json:"block_reason,omitempty"`
	Warnings    []string  `json:"warnings"`
	Override    *Override `json:"override,omitempty"`
}

// Hashes holds content hashes of every payload an artifact references.
type Hashes struct {
	Feasibility string `json:"feasibility_hash"`
	Toolpaths   string `json:"toolpaths_hash,omitempty"`
	GCode       string `json:"gcode_hash,omitempty"`
	OpPlan      string `json:"opplan_hash,omitempty"`
	Metadata    string `json:"metadata_hash,omitempty"`
}

// Outputs are the collaborator payloads of a successful run.
type Outputs struct {
	Toolpaths json.RawMessage `json:"toolpaths,omitempty"`
	GCodeText string          `json:"gcode_text,omitempty"`
	OpPlan    json.RawMessage `json:"opplan,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// RunArtifact is the immutable audit record of one governed run attempt.
type RunArtifact struct {
	RunID          RunID             `json:"run_id"`
	CreatedAt      time.Time         `json:"created_at"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Mode           string            `json:"mode"`
	ToolID         string            `json:"tool_id"`
	Status         RunStatus         `json:"status"`
	RequestSummary map[string]any    `json:"request_summary"`
	Feasibility    json.RawMessage   `json:"feasibility"`
	Decision       Decision          `json:"decision"`
	Hashes         Hashes            `json:"hashes"`
	Outputs        *Outputs          `json:"outputs,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

// AdvisoryLink is supplementary material attached to an existing artifact
// after the fact. It never modifies the parent.
type AdvisoryLink struct {
	AdvisoryID AdvisoryID `json:"advisory_id"`
	RunID      RunID      `json:"run_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Author     string     `json:"author,omitempty"`
	Kind       string     `json:"kind"`
	Body       string     `json:"body"`
	BodyHash   string     `json:"body_hash"`
}

// ArtifactFilter selects artifacts in Query. Zero values match everything.
// From and To bound created_at (inclusive From, exclusive To).
type ArtifactFilter struct {
	Mode   string
	ToolID string
	Status RunStatus
	From   time.Time
	To     time.Time
	Meta   map[string]string
	Limit  int
}

// TransitionRecord is one entry of a workflow session's history.
type TransitionRecord struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Action string    `json:"action"`
	RunID  RunID     `json:"run_id,omitempty"`
	Actor  string    `json:"actor,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// SessionRecord is the persisted form of a workflow session. Version is
// incremented by the store on every successful save.
type SessionRecord struct {
	SessionID        SessionID          `json:"session_id"`
	State            string             `json:"state"`
	DesignRef        string             `json:"design_ref"`
	ContextRef       string             `json:"context_ref,omitempty"`
	FeasibilityRunID RunID              `json:"feasibility_run_id,omitempty"`
	ToolpathsRunID   RunID              `json:"toolpaths_run_id,omitempty"`
	History          []TransitionRecord `json:"history"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
