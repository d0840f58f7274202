package types

import (
	"testing"
	"time"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestRunIDPartition(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	id := NewRunID()
	after := time.Now().UTC().Add(time.Second)

	if !id.Valid() {
		t.Fatalf("expected valid run id, got %s", id)
	}
	ts, err := id.Time()
	if err != nil {
		t.Fatal(err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("embedded time %v outside [%v, %v]", ts, before, after)
	}
	part, err := id.Partition()
	if err != nil {
		t.Fatal(err)
	}
	if part != ts.Format(PartitionLayout) {
		t.Errorf("expected partition %s, got %s", ts.Format(PartitionLayout), part)
	}
}

func TestRunIDRejectsNonV7(t *testing.T) {
	for _, id := range []RunID{"", "not-a-uuid", RunID(NewSessionID()), "../../etc/passwd"} {
		if id.Valid() {
			t.Errorf("expected %q to be invalid", id)
		}
		if _, err := id.Partition(); err == nil {
			t.Errorf("expected partition error for %q", id)
		}
	}
}

func TestRunIDsAreOrdered(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	if !(a < b) {
		t.Errorf("expected %s < %s", a, b)
	}
}
