package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/rungov/internal/types"
)

// Manager drives sessions through the transition table. Transitions on one
// session are serialised; the store's version check catches writers in other
// processes.
type Manager struct {
	store types.SessionStore
	runs  types.ArtifactReader
	now   func() time.Time

	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// Option configures optional behaviour on a Manager.
type Option func(*Manager)

// WithArtifacts makes the manager check that run ids carried by
// feasibility_ready and toolpaths_ready name real artifacts.
func WithArtifacts(r types.ArtifactReader) Option {
	return func(m *Manager) { m.runs = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager backed by store.
func NewManager(store types.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (m *Manager) getLock(id types.SessionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[id] = lock
	return lock
}

// Create starts a new session in DRAFT.
func (m *Manager) Create(ctx context.Context, designRef string) (*Session, error) {
	if strings.TrimSpace(designRef) == "" {
		return nil, &types.ValidationError{Field: "design_ref", Reason: "is required"}
	}
	s := NewSession(designRef, m.now())
	rec := s.Record()
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "session_id", string(rec.SessionID), "design_ref", designRef)
	return FromRecord(rec)
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, id types.SessionID) (*Session, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromRecord(rec)
}

// List returns every session, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	recs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		s, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Advance applies t to the session and persists the result. An illegal
// action fails with IllegalTransitionError and leaves the stored session
// untouched.
func (m *Manager) Advance(ctx context.Context, id types.SessionID, t Transition) (*Session, error) {
	lock := m.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := Next(s.State(), t.Action); !ok {
		return nil, illegal(id, s.State(), t.Action)
	}
	if err := m.checkEvidence(ctx, t); err != nil {
		return nil, err
	}

	from := s.State()
	if err := s.Apply(t, m.now()); err != nil {
		return nil, err
	}
	rec := s.Record()
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	slog.Info("session advanced",
		"session_id", string(id),
		"from", string(from),
		"to", string(s.State()),
		"action", string(t.Action),
		"run_id", string(t.RunID),
	)
	return FromRecord(rec)
}

func (m *Manager) checkEvidence(ctx context.Context, t Transition) error {
	if m.runs == nil || !RequiresRunID(t.Action) || !t.RunID.Valid() {
		return nil
	}
	art, found, err := m.runs.Get(ctx, t.RunID)
	if err != nil {
		return fmt.Errorf("look up run %s: %w", t.RunID, err)
	}
	if !found {
		return &types.ValidationError{Field: "run_id", Reason: fmt.Sprintf("run %s does not exist", t.RunID)}
	}
	if t.Action == MarkToolpaths && art.Status != types.StatusOK {
		return &types.ValidationError{Field: "run_id", Reason: fmt.Sprintf("run %s has status %s, toolpaths need an OK run", t.RunID, art.Status)}
	}
	return nil
}

func (m *Manager) SetContext(ctx context.Context, id types.SessionID, contextRef, actor string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: SetContext, ContextRef: contextRef, Actor: actor})
}

func (m *Manager) RequestFeasibility(ctx context.Context, id types.SessionID, actor string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: RequestFeasibility, Actor: actor})
}

func (m *Manager) FeasibilityReady(ctx context.Context, id types.SessionID, runID types.RunID, actor string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: MarkFeasibility, RunID: runID, Actor: actor})
}

func (m *Manager) Approve(ctx context.Context, id types.SessionID, actor, note string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: Approve, Actor: actor, Note: note})
}

func (m *Manager) Reject(ctx context.Context, id types.SessionID, actor, note string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: Reject, Actor: actor, Note: note})
}

func (m *Manager) RequireRevision(ctx context.Context, id types.SessionID, actor, note string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: RequireRevision, Actor: actor, Note: note})
}

func (m *Manager) RequestToolpaths(ctx context.Context, id types.SessionID, actor string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: RequestToolpaths, Actor: actor})
}

func (m *Manager) ToolpathsReady(ctx context.Context, id types.SessionID, runID types.RunID, actor string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: MarkToolpaths, RunID: runID, Actor: actor})
}

func (m *Manager) Archive(ctx context.Context, id types.SessionID, actor, note string) (*Session, error) {
	return m.Advance(ctx, id, Transition{Action: Archive, Actor: actor, Note: note})
}
