// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/rungov/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	rec := &types.SessionRecord{
		SessionID: types.NewSessionID(),
		State:     "DRAFT",
		DesignRef: "design://body/42",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	got, err := store.Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DesignRef != rec.DesignRef || got.State != "DRAFT" {
		t.Errorf("unexpected session %+v", got)
	}

	got.State = "CONTEXT_READY"
	if err := store.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2 after save, got %d", got.Version)
	}

	// The stale copy loses.
	rec.State = "ARCHIVED"
	if err := store.Save(ctx, rec); !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].State != "CONTEXT_READY" {
		t.Errorf("unexpected list %+v", list)
	}

	if err := store.Create(ctx, &types.SessionRecord{SessionID: rec.SessionID}); !errors.Is(err, types.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestSessionStoreNotFound(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, types.NewSessionID()); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "../escape"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for invalid id, got %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}
