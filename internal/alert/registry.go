// internal/alert/registry.go
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/rungov/internal/types"
)

// Alert is an operator-facing notice about something that must not be
// silently swallowed, such as a store integrity violation.
type Alert struct {
	Subject string
	Body    string
	RunID   types.RunID
	At      time.Time
}

// Text renders the alert as a plain message.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Subject)
	if a.RunID != "" {
		b.WriteString(" (run ")
		b.WriteString(string(a.RunID))
		b.WriteString(")")
	}
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	return b.String()
}

// Handler delivers an alert to a target such as "telegram:12345".
type Handler func(target string, a Alert) error

// Registry routes alerts to the appropriate handler based on target prefix
// (e.g. "telegram:", "log:") and fans out to every configured target.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	targets  []string
}

// NewRegistry creates an empty alert registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// AddTarget subscribes a target to every alert passed to Notify.
func (r *Registry) AddTarget(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

// Deliver finds the handler matching the target prefix and calls it.
// Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(target string, a Alert) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliverLocked(target, a)
}

func (r *Registry) deliverLocked(target string, a Alert) error {
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(target, prefix) {
			return handler(target, a)
		}
	}
	return fmt.Errorf("no alert handler for target: %s", target)
}

// Notify delivers a to every target. With no targets configured the alert
// is still logged.
func (r *Registry) Notify(_ context.Context, a Alert) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.targets) == 0 {
		return LogHandler("log:", a)
	}
	var errs []error
	for _, target := range r.targets {
		if err := r.deliverLocked(target, a); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// LogHandler writes the alert to the structured log at error level.
func LogHandler(_ string, a Alert) error {
	slog.Error("operator alert", "subject", a.Subject, "run_id", string(a.RunID), "detail", a.Body, "at", a.At)
	return nil
}
