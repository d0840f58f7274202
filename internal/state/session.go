// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/user/rungov/internal/types"
)

// SessionStore is a JSON-file-backed workflow session store. Each session is
// a single file at sessions/<sessionID>.json, replaced atomically on save.
type SessionStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (s *SessionStore) getLock(id types.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionPath(id types.SessionID) (string, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return "", fmt.Errorf("session %q: %w", id, types.ErrNotFound)
	}
	return filepath.Join(s.sessionsDir(), string(id)+".json"), nil
}

func (s *SessionStore) read(path string) (*types.SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &rec, nil
}

// Create persists a brand-new session record at version 1.
func (s *SessionStore) Create(_ context.Context, rec *types.SessionRecord) error {
	path, err := s.sessionPath(rec.SessionID)
	if err != nil {
		return err
	}
	lock := s.getLock(rec.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	rec.Version = 1
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := writeOnce(path, data); err != nil {
		if errors.Is(err, errExists) {
			return fmt.Errorf("session %s: %w", rec.SessionID, types.ErrDuplicateID)
		}
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.SessionRecord, error) {
	path, err := s.sessionPath(id)
	if err != nil {
		return nil, err
	}
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	return rec, nil
}

// Save replaces the stored session if its version still equals rec.Version,
// then bumps rec.Version.
func (s *SessionStore) Save(_ context.Context, rec *types.SessionRecord) error {
	path, err := s.sessionPath(rec.SessionID)
	if err != nil {
		return err
	}
	lock := s.getLock(rec.SessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session %s: %w", rec.SessionID, types.ErrNotFound)
		}
		return fmt.Errorf("read session: %w", err)
	}
	if current.Version != rec.Version {
		return fmt.Errorf("session %s at version %d, have %d: %w", rec.SessionID, current.Version, rec.Version, types.ErrConflict)
	}

	next := *rec
	next.Version = rec.Version + 1
	data, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := writeReplace(path, data); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	rec.Version = next.Version
	return nil
}

// List returns all sessions, oldest first.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionRecord, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.SessionRecord{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*types.SessionRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.sessionsDir(), name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
