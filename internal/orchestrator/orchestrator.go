// Package orchestrator runs the governed request sequence: recompute
// feasibility, consult the safety gate, generate toolpaths, and persist
// exactly one artifact before returning.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/user/rungov/internal/alert"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/feasibility"
	"github.com/user/rungov/internal/safety"
	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/pkg/cam"
)

// Request is one inbound run request. Context is free-form; any
// client-asserted feasibility fields in it are discarded.
type Request struct {
	Mode          string                  `json:"mode"`
	ToolID        string                  `json:"tool_id"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Context       map[string]any          `json:"context"`
	Meta          map[string]string       `json:"meta,omitempty"`
	Override      *safety.OverrideRequest `json:"override,omitempty"`
}

// Outcome is returned alongside any error once an artifact exists.
type Outcome struct {
	RunID    types.RunID
	Status   types.RunStatus
	Decision types.Decision
	Outputs  *types.Outputs
	Artifact *types.RunArtifact
}

// Notifier receives operator alerts.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) error
}

// Orchestrator wires the evaluator, gate, generator and store together.
type Orchestrator struct {
	store     types.ArtifactStore
	evaluator feasibility.Evaluator
	gate      *safety.Gate
	generator cam.Generator
	notifier  Notifier
	sem       *semaphore.Weighted
}

// Option configures optional behaviour on an Orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrent bounds the number of runs in flight.
func WithMaxConcurrent(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithNotifier sets where store integrity alerts are sent.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an Orchestrator. A nil generator means toolpath generation is
// unavailable.
func New(store types.ArtifactStore, evaluator feasibility.Evaluator, gate *safety.Gate, generator cam.Generator, opts ...Option) *Orchestrator {
	if generator == nil {
		generator = cam.Unavailable{}
	}
	o := &Orchestrator{
		store:     store,
		evaluator: evaluator,
		gate:      gate,
		generator: generator,
		notifier:  alert.NewRegistry(),
		sem:       semaphore.NewWeighted(4),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request. A request without mode or tool_id fails with a
// ValidationError and leaves no artifact. Every other path persists exactly
// one artifact before returning; the Outcome is non-nil whenever it exists.
// A BLOCKED run returns both the Outcome and a SafetyBlockedError.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	mode := strings.TrimSpace(req.Mode)
	toolID := strings.TrimSpace(req.ToolID)
	if mode == "" {
		return nil, &types.ValidationError{Field: "mode", Reason: "is required"}
	}
	if toolID == "" {
		return nil, &types.ValidationError{Field: "tool_id", Reason: "is required"}
	}

	runID := types.NewRunID()
	r := &run{o: o, ctx: ctx, req: req, mode: mode, toolID: toolID, id: runID}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return r.fail(notEvaluated("cancelled before evaluation"), types.Decision{RiskLevel: types.RiskUnknown},
			&types.IOError{RunID: runID, Op: "wait for run slot", Err: err})
	}
	defer o.sem.Release(1)

	return r.execute()
}

// run carries the state of a single request through the pipeline.
type run struct {
	o      *Orchestrator
	ctx    context.Context
	req    Request
	mode   string
	toolID string
	id     types.RunID
	input  map[string]any
}

func (r *run) execute() (*Outcome, error) {
	input, err := cloneContext(r.req.Context)
	if err != nil {
		return r.fail(notEvaluated("invalid context"), types.Decision{RiskLevel: types.RiskUnknown},
			&types.ValidationError{RunID: r.id, Field: "context", Reason: err.Error()})
	}
	r.input = input
	if dropped := stripClientFeasibility(input); len(dropped) > 0 {
		slog.Warn("discarded client-supplied feasibility fields", "run_id", string(r.id), "fields", dropped)
	}

	res, err := r.o.evaluator.Evaluate(r.ctx, r.mode, r.toolID, input)
	if err != nil {
		marker, _ := json.Marshal(map[string]string{
			"error":   "feasibility_adapter_error",
			"mode":    r.mode,
			"message": err.Error(),
		})
		return r.fail(marker, types.Decision{RiskLevel: types.RiskUnknown, Warnings: []string{}},
			&types.FeasibilityAdapterError{RunID: r.id, Mode: r.mode, Err: err})
	}

	feas, err := feasibilityPayload(res)
	if err == nil {
		// The artifact can only be written if its feasibility hashes.
		_, err = digest.JSON(feas)
	}
	if err != nil {
		return r.fail(notEvaluated("unhashable feasibility result"), types.Decision{RiskLevel: types.RiskUnknown},
			&types.FeasibilityAdapterError{RunID: r.id, Mode: r.mode, Err: err})
	}

	verdict := r.o.gate.Decide(r.mode, res.RiskLevel)
	decision := types.Decision{
		RiskLevel: res.RiskLevel,
		Score:     res.Score,
		Action:    string(verdict.Action),
		Warnings:  append([]string{}, res.Warnings...),
	}

	if verdict.Action == safety.Block {
		ov, err := r.o.gate.Override(res.RiskLevel, verdict, r.req.Override)
		if err != nil {
			decision.Warnings = append(decision.Warnings, "override refused: "+err.Error())
		}
		if ov == nil {
			decision.BlockReason = blockReason(verdict, res.Warnings)
			return r.block(feas, decision)
		}
		decision.Override = ov
		slog.Warn("safety block overridden", "run_id", string(r.id), "mode", r.mode, "actor", ov.Actor, "reason", ov.Reason)
	}

	out, err := r.generate()
	if err != nil {
		return r.fail(feas, decision, &types.CollaboratorError{RunID: r.id, Err: err})
	}
	return r.succeed(feas, decision, out)
}

func (r *run) generate() (out *cam.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("generator panicked: %v", p)
		}
	}()
	out, err = r.o.generator.Generate(r.ctx, r.mode, r.input)
	if err == nil && out == nil {
		err = errors.New("generator returned no result")
	}
	return out, err
}

func (r *run) block(feas json.RawMessage, decision types.Decision) (*Outcome, error) {
	art := r.artifact(types.StatusBlocked, feas, decision, nil, nil)
	outcome, err := r.persist(art)
	if err != nil {
		return outcome, err
	}
	return outcome, &types.SafetyBlockedError{
		RunID:     r.id,
		RiskLevel: decision.RiskLevel,
		Reason:    decision.BlockReason,
		Warnings:  decision.Warnings,
	}
}

func (r *run) succeed(feas json.RawMessage, decision types.Decision, res *cam.Result) (*Outcome, error) {
	outputs := &types.Outputs{
		Toolpaths: res.Toolpaths,
		GCodeText: res.GCodeText,
		OpPlan:    res.OpPlan,
		Metadata:  res.Metadata,
	}
	if _, err := digest.ComputeHashes(feas, outputs); err != nil {
		return r.fail(feas, decision, &types.CollaboratorError{RunID: r.id, Err: fmt.Errorf("unhashable output: %w", err)})
	}
	art := r.artifact(types.StatusOK, feas, decision, outputs, nil)
	return r.persist(art)
}

// fail persists an ERROR artifact and returns cause, unless persistence
// itself fails, in which case the store error wins.
func (r *run) fail(feas json.RawMessage, decision types.Decision, cause error) (*Outcome, error) {
	if decision.Warnings == nil {
		decision.Warnings = []string{}
	}
	art := r.artifact(types.StatusError, feas, decision, nil, []string{cause.Error()})
	outcome, err := r.persist(art)
	if err != nil {
		slog.Error("run failed and could not be recorded", "run_id", string(r.id), "cause", cause, "error", err)
		return outcome, err
	}
	return outcome, cause
}

func (r *run) artifact(status types.RunStatus, feas json.RawMessage, decision types.Decision, outputs *types.Outputs, errs []string) *types.RunArtifact {
	return &types.RunArtifact{
		RunID:          r.id,
		CorrelationID:  r.req.CorrelationID,
		Mode:           r.mode,
		ToolID:         r.toolID,
		Status:         status,
		RequestSummary: r.summary(),
		Feasibility:    feas,
		Decision:       decision,
		Outputs:        outputs,
		Errors:         errs,
		Meta:           copyMeta(r.req.Meta),
	}
}

func (r *run) summary() map[string]any {
	s := map[string]any{
		"mode":    r.mode,
		"tool_id": r.toolID,
	}
	if r.input != nil {
		s["context"] = redactSecrets(r.input)
	}
	if r.req.Override != nil {
		s["override_requested"] = map[string]string{"actor": r.req.Override.Actor, "reason": r.req.Override.Reason}
	}
	return s
}

// persist writes art even if the request context was cancelled; a client
// disconnect is never grounds for losing the audit record.
func (r *run) persist(art *types.RunArtifact) (*Outcome, error) {
	ctx := context.WithoutCancel(r.ctx)

	hashes, err := digest.ComputeHashes(art.Feasibility, art.Outputs)
	if err != nil {
		// Payloads that cannot be canonicalised cannot be audited.
		err = &types.StoreIntegrityError{RunID: r.id, Reason: "hash artifact payloads", Err: err}
		r.alertIntegrity(ctx, err)
		return nil, err
	}
	art.Hashes = hashes

	if _, err := r.o.store.Create(ctx, art); err != nil {
		var integrity *types.StoreIntegrityError
		if errors.As(err, &integrity) {
			r.alertIntegrity(ctx, err)
		}
		return nil, err
	}

	level := slog.LevelInfo
	if art.Status == types.StatusError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "run recorded",
		"run_id", string(art.RunID),
		"mode", art.Mode,
		"tool_id", art.ToolID,
		"status", string(art.Status),
		"risk_level", string(art.Decision.RiskLevel),
		"correlation_id", art.CorrelationID,
	)

	return &Outcome{
		RunID:    art.RunID,
		Status:   art.Status,
		Decision: art.Decision,
		Outputs:  art.Outputs,
		Artifact: art,
	}, nil
}

func (r *run) alertIntegrity(ctx context.Context, err error) {
	slog.Error("store integrity violation", "run_id", string(r.id), "error", err)
	if nerr := r.o.notifier.Notify(ctx, alert.Alert{Subject: "store integrity violation", Body: err.Error(), RunID: r.id}); nerr != nil {
		slog.Error("alert delivery failed", "run_id", string(r.id), "error", nerr)
	}
}

func feasibilityPayload(res *feasibility.Result) (json.RawMessage, error) {
	payload := map[string]any{
		"risk_level": res.RiskLevel,
		"warnings":   res.Warnings,
	}
	if res.Score != nil {
		payload["score"] = *res.Score
	}
	if len(res.RawPayload) > 0 {
		payload["evaluator_payload"] = res.RawPayload
	}
	return json.Marshal(payload)
}

func notEvaluated(reason string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": "not_evaluated", "reason": reason})
	return b
}

func blockReason(v safety.Verdict, warnings []string) string {
	if len(warnings) == 0 {
		return v.Reason
	}
	return v.Reason + ": " + strings.Join(warnings, "; ")
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
