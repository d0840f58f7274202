package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/rungov/internal/types"
)

// Transition is one requested state change.
type Transition struct {
	Action     Action
	RunID      types.RunID
	ContextRef string
	Actor      string
	Note       string
}

// Session is a workflow session. Its state can only change through Apply
// and the named transition methods.
type Session struct {
	rec types.SessionRecord
}

// NewSession creates a session in DRAFT.
func NewSession(designRef string, now time.Time) *Session {
	now = now.UTC()
	return &Session{rec: types.SessionRecord{
		SessionID: types.NewSessionID(),
		State:     string(Draft),
		DesignRef: designRef,
		History:   []types.TransitionRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// FromRecord rebuilds a session from storage.
func FromRecord(rec *types.SessionRecord) (*Session, error) {
	if rec == nil {
		return nil, errors.New("nil session record")
	}
	if _, ok := ParseState(rec.State); !ok {
		return nil, fmt.Errorf("session %s has unknown state %q", rec.SessionID, rec.State)
	}
	s := &Session{rec: *rec}
	s.rec.History = append([]types.TransitionRecord(nil), rec.History...)
	return s, nil
}

// Record returns a copy suitable for storage.
func (s *Session) Record() *types.SessionRecord {
	rec := s.rec
	rec.History = append([]types.TransitionRecord{}, s.rec.History...)
	return &rec
}

func (s *Session) ID() types.SessionID               { return s.rec.SessionID }
func (s *Session) State() State                      { return State(s.rec.State) }
func (s *Session) DesignRef() string                 { return s.rec.DesignRef }
func (s *Session) ContextRef() string                { return s.rec.ContextRef }
func (s *Session) FeasibilityRunID() types.RunID     { return s.rec.FeasibilityRunID }
func (s *Session) ToolpathsRunID() types.RunID       { return s.rec.ToolpathsRunID }
func (s *Session) Version() int64                    { return s.rec.Version }
func (s *Session) History() []types.TransitionRecord { return append([]types.TransitionRecord{}, s.rec.History...) }

// Apply validates t against the current state and, if legal, moves the
// session. On any error the session is unchanged.
func (s *Session) Apply(t Transition, now time.Time) error {
	from := s.State()
	to, ok := Next(from, t.Action)
	if !ok {
		return illegal(s.rec.SessionID, from, t.Action)
	}

	if RequiresRunID(t.Action) {
		if t.RunID == "" {
			return &types.ValidationError{Field: "run_id", Reason: fmt.Sprintf("%s requires the run that justifies it", t.Action)}
		}
		if !t.RunID.Valid() {
			return &types.ValidationError{Field: "run_id", Reason: fmt.Sprintf("%q is not a run id", t.RunID)}
		}
	} else if t.RunID != "" {
		return &types.ValidationError{Field: "run_id", Reason: fmt.Sprintf("%s does not take a run id", t.Action)}
	}
	if t.Action == SetContext && strings.TrimSpace(t.ContextRef) == "" {
		return &types.ValidationError{Field: "context_ref", Reason: "is required"}
	}

	switch t.Action {
	case SetContext:
		s.rec.ContextRef = t.ContextRef
		// A revised design needs fresh evidence.
		s.rec.FeasibilityRunID = ""
	case MarkFeasibility:
		s.rec.FeasibilityRunID = t.RunID
	case MarkToolpaths:
		s.rec.ToolpathsRunID = t.RunID
	}

	now = now.UTC()
	s.rec.State = string(to)
	s.rec.UpdatedAt = now
	s.rec.History = append(s.rec.History, types.TransitionRecord{
		From:   string(from),
		To:     string(to),
		Action: string(t.Action),
		RunID:  t.RunID,
		Actor:  t.Actor,
		Note:   t.Note,
		At:     now,
	})
	return nil
}
