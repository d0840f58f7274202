package feasibility

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/user/rungov/internal/types"
)

// Limit is a pair of thresholds for one numeric context field. Values above
// Warn are YELLOW, values above Max are RED. A zero Warn disables the warn
// band.
type Limit struct {
	Warn float64 `json:"warn"`
	Max  float64 `json:"max"`
}

// LimitsEvaluator scores a request by comparing numeric context fields with
// configured machine limits.
type LimitsEvaluator struct {
	limits map[string]Limit
}

// NewLimitsEvaluator creates an evaluator over the given field limits.
func NewLimitsEvaluator(limits map[string]Limit) *LimitsEvaluator {
	cp := make(map[string]Limit, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &LimitsEvaluator{limits: cp}
}

type fieldCheck struct {
	Field string   `json:"field"`
	Value *float64 `json:"value,omitempty"`
	Warn  float64  `json:"warn,omitempty"`
	Max   float64  `json:"max"`
	Risk  string   `json:"risk"`
}

// Evaluate checks every configured field. A missing or non-numeric field
// makes the result UNKNOWN; the worst field decides otherwise.
func (l *LimitsEvaluator) Evaluate(_ context.Context, mode, toolID string, input map[string]any) (*Result, error) {
	fields := make([]string, 0, len(l.limits))
	for f := range l.limits {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	risk := types.RiskGreen
	warnings := []string{}
	checks := make([]fieldCheck, 0, len(fields))
	score := 100.0

	for _, field := range fields {
		lim := l.limits[field]
		check := fieldCheck{Field: field, Warn: lim.Warn, Max: lim.Max}

		v, ok := number(input[field])
		if !ok {
			check.Risk = string(types.RiskUnknown)
			checks = append(checks, check)
			warnings = append(warnings, fmt.Sprintf("%s is missing or not numeric", field))
			risk = worse(risk, types.RiskUnknown)
			continue
		}
		check.Value = &v

		switch {
		case v > lim.Max:
			check.Risk = string(types.RiskRed)
			warnings = append(warnings, fmt.Sprintf("%s %s exceeds machine limit %s", field, format(v), format(lim.Max)))
			risk = worse(risk, types.RiskRed)
		case lim.Warn > 0 && v > lim.Warn:
			check.Risk = string(types.RiskYellow)
			warnings = append(warnings, fmt.Sprintf("%s %s above recommended %s", field, format(v), format(lim.Warn)))
			risk = worse(risk, types.RiskYellow)
		default:
			check.Risk = string(types.RiskGreen)
		}
		if lim.Max > 0 {
			headroom := 100 * (1 - v/lim.Max)
			score = math.Min(score, headroom)
		}
		checks = append(checks, check)
	}

	payload, err := json.Marshal(map[string]any{
		"evaluator": "limits",
		"mode":      mode,
		"tool_id":   toolID,
		"checks":    checks,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal limits payload: %w", err)
	}

	res := &Result{RiskLevel: risk, Warnings: warnings, RawPayload: payload}
	if risk != types.RiskUnknown {
		s := math.Round(math.Max(0, math.Min(100, score))*100) / 100
		res.Score = &s
	}
	return res, nil
}

var severity = map[types.RiskLevel]int{
	types.RiskGreen:   0,
	types.RiskYellow:  1,
	types.RiskRed:     2,
	types.RiskUnknown: 3,
}

func worse(a, b types.RiskLevel) types.RiskLevel {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(n, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	// "NaN" and "Inf" parse but are not measurements.
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

func format(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
