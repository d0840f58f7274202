package feasibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
)

// DefaultQuery is the rule a feasibility policy bundle must define. It must
// evaluate to an object {risk_level, score?, warnings?}.
const DefaultQuery = "data.rungov.feasibility.result"

// RegoEvaluator scores requests with an OPA policy bundle loaded from disk.
type RegoEvaluator struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

// NewRegoEvaluator prepares the feasibility query over every .rego and
// data.json file below dir.
func NewRegoEvaluator(ctx context.Context, dir string) (*RegoEvaluator, error) {
	hash, err := PolicyHash(dir)
	if err != nil {
		return nil, fmt.Errorf("hash policy bundle: %w", err)
	}
	r := rego.New(
		rego.Query(DefaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{dir}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &RegoEvaluator{query: prepared, policyHash: hash}, nil
}

// PolicyHash returns the content hash recorded with every evaluation.
func (e *RegoEvaluator) PolicyHash() string {
	return e.policyHash
}

type regoInput struct {
	Mode    string         `json:"mode"`
	ToolID  string         `json:"tool_id"`
	Context map[string]any `json:"context"`
}

type regoResult struct {
	RiskLevel string   `json:"risk_level"`
	Score     *float64 `json:"score"`
	Warnings  []string `json:"warnings"`
}

func (e *RegoEvaluator) Evaluate(ctx context.Context, mode, toolID string, input map[string]any) (*Result, error) {
	if e == nil {
		return nil, errors.New("policy evaluator is nil")
	}
	if input == nil {
		input = map[string]any{}
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(regoInput{Mode: mode, ToolID: toolID, Context: input}))
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}
	// An undefined result means the bundle has no opinion on this mode.
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		payload, _ := json.Marshal(map[string]string{"reason": "policy_undefined", "policy_hash": e.policyHash})
		return &Result{
			RiskLevel:  types.RiskUnknown,
			Warnings:   []string{"feasibility policy returned no result"},
			RawPayload: payload,
		}, nil
	}

	raw, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("encode policy result: %w", err)
	}
	var out regoResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode policy result: %w", err)
	}
	risk, ok := types.ParseRiskLevel(strings.ToUpper(out.RiskLevel))
	if !ok {
		return nil, fmt.Errorf("policy returned invalid risk level %q", out.RiskLevel)
	}
	sort.Strings(out.Warnings)
	if out.Warnings == nil {
		out.Warnings = []string{}
	}

	payload, err := json.Marshal(map[string]any{
		"evaluator":   "rego",
		"policy_hash": e.policyHash,
		"result":      json.RawMessage(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal policy payload: %w", err)
	}
	return &Result{RiskLevel: risk, Score: out.Score, Warnings: out.Warnings, RawPayload: payload}, nil
}

type policyFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// PolicyHash hashes the normative files of a policy bundle so an artifact
// can name the exact policy that scored it.
func PolicyHash(dir string) (string, error) {
	fsys := os.DirFS(dir)
	var files []policyFile
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := filepath.Base(path)
		if d.IsDir() {
			if path != "." && strings.HasPrefix(base, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") || !(strings.HasSuffix(base, ".rego") || base == "data.json") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files = append(files, policyFile{Path: filepath.ToSlash(path), SHA256: digest.Bytes(data)})
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no policy files in %s", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return digest.Value(map[string]any{"files": files})
}
