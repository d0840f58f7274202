// Package ratelimit provides fixed-window request limiters for the HTTP
// boundary.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the result of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
