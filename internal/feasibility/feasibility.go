// Package feasibility normalises per-mode scorers into a single result shape.
package feasibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
)

// Result is the normalised output of an Evaluator.
type Result struct {
	RiskLevel  types.RiskLevel `json:"risk_level"`
	Score      *float64        `json:"score,omitempty"`
	Warnings   []string        `json:"warnings"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// Evaluator scores a request for one mode.
type Evaluator interface {
	Evaluate(ctx context.Context, mode, toolID string, input map[string]any) (*Result, error)
}

// EvaluatorFunc adapts a plain function to an Evaluator.
type EvaluatorFunc func(ctx context.Context, mode, toolID string, input map[string]any) (*Result, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, mode, toolID string, input map[string]any) (*Result, error) {
	return f(ctx, mode, toolID, input)
}

// UnregisteredReason is recorded in the payload of a result for a mode
// without an evaluator.
const UnregisteredReason = "unregistered_mode"

// Registry dispatches evaluation by mode. Modes without an evaluator resolve
// to UNKNOWN.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty evaluator registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register binds an evaluator to a mode, replacing any previous one.
func (r *Registry) Register(mode string, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[mode] = e
}

// Get returns the evaluator for a mode.
func (r *Registry) Get(mode string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[mode]
	return e, ok
}

// Modes returns every registered mode, sorted.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.evaluators))
	for m := range r.evaluators {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs the evaluator registered for mode. A missing evaluator is
// not an error: it yields UNKNOWN. An evaluator that fails, panics or returns
// a malformed result is an error.
func (r *Registry) Evaluate(ctx context.Context, mode, toolID string, input map[string]any) (*Result, error) {
	e, ok := r.Get(mode)
	if !ok {
		payload, _ := json.Marshal(map[string]string{"reason": UnregisteredReason, "mode": mode})
		return &Result{
			RiskLevel:  types.RiskUnknown,
			Warnings:   []string{fmt.Sprintf("no feasibility evaluator registered for mode %q", mode)},
			RawPayload: payload,
		}, nil
	}

	res, err := safeEvaluate(ctx, e, mode, toolID, input)
	if err != nil {
		return nil, err
	}
	if err := validate(res); err != nil {
		return nil, err
	}
	return res, nil
}

func safeEvaluate(ctx context.Context, e Evaluator, mode, toolID string, input map[string]any) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("evaluator panicked: %v", p)
		}
	}()
	return e.Evaluate(ctx, mode, toolID, input)
}

func validate(res *Result) error {
	if res == nil {
		return errors.New("evaluator returned no result")
	}
	if _, ok := types.ParseRiskLevel(string(res.RiskLevel)); !ok {
		return fmt.Errorf("evaluator returned invalid risk level %q", res.RiskLevel)
	}
	if res.Score != nil && (*res.Score < 0 || *res.Score > 100) {
		return fmt.Errorf("evaluator returned score %v outside 0-100", *res.Score)
	}
	if len(res.RawPayload) > 0 {
		// Payloads end up in the artifact's feasibility hash.
		if _, err := digest.Canonicalize(res.RawPayload); err != nil {
			return fmt.Errorf("evaluator returned invalid raw payload: %w", err)
		}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return nil
}
