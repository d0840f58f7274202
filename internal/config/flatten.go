package config

import (
	"net/url"
	"strings"
)

// secretKeys lists the dot keys that never print in clear text.
var secretKeys = map[string]bool{
	"cam.token":      true,
	"redis.password": true,
	"postgres.dsn":   true,
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested objects into dot keys, so
// {"limits": {"router": {"feed_mm_min": {"max": 4000}}}} becomes
// {"limits.router.feed_mm_min.max": 4000}. Empty objects disappear.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar sitting where a nested key
// needs an object is replaced by that object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with credentials hidden. Tokens keep
// their last four characters so operators can tell them apart; a DSN keeps
// everything but its password.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = maskSecret(k, s)
	}
	return out
}

func maskSecret(key, s string) string {
	if key == "postgres.dsn" {
		if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.User != nil {
			return u.Redacted()
		}
		return "***"
	}
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
