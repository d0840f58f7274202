package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RedactedValue replaces secret-looking values in stored request summaries.
const RedactedValue = "[REDACTED]"

// clientAssertedKeys are fields a caller might use to assert its own safety.
// They are matched after lowercasing and dropping '_' and '-'.
var clientAssertedKeys = map[string]struct{}{
	"feasibility":      {},
	"feasibilityscore": {},
	"feasibilityhash":  {},
	"risk":             {},
	"risklevel":        {},
	"riskbucket":       {},
	"safety":           {},
	"safetydecision":   {},
	"decision":         {},
	"blockreason":      {},
}

var secretKeys = []string{"password", "passwd", "secret", "token", "apikey", "privatekey", "authorization", "credential"}

func normaliseKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// cloneContext deep-copies a request context through JSON so that it is
// known to be serialisable and shares nothing with the caller. Numbers are
// kept as json.Number.
func cloneContext(in map[string]any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("context is not serialisable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// stripClientFeasibility removes every client-asserted safety field at any
// depth and returns the dotted paths it dropped.
func stripClientFeasibility(m map[string]any) []string {
	var dropped []string
	stripMap(m, "", &dropped)
	return dropped
}

func stripMap(m map[string]any, prefix string, dropped *[]string) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if _, ok := clientAssertedKeys[normaliseKey(k)]; ok {
			delete(m, k)
			*dropped = append(*dropped, path)
			continue
		}
		stripValue(v, path, dropped)
	}
}

func stripValue(v any, path string, dropped *[]string) {
	switch t := v.(type) {
	case map[string]any:
		stripMap(t, path, dropped)
	case []any:
		for i, item := range t {
			stripValue(item, fmt.Sprintf("%s[%d]", path, i), dropped)
		}
	}
}

// redactSecrets returns a copy of m with secret-looking values replaced.
func redactSecrets(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSecretKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return redactSecrets(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(k string) bool {
	n := normaliseKey(k)
	for _, s := range secretKeys {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}
