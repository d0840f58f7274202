// internal/alert/registry_test.go
package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotTarget string
	var got Alert
	reg.Register("test:", func(target string, a Alert) error {
		gotTarget = target
		got = a
		return nil
	})

	err := reg.Deliver("test:123", Alert{Subject: "hash mismatch", RunID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTarget != "test:123" {
		t.Errorf("expected target %q, got %q", "test:123", gotTarget)
	}
	if got.Subject != "hash mismatch" {
		t.Errorf("expected subject %q, got %q", "hash mismatch", got.Subject)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", Alert{Subject: "x"})
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryNotifyFansOut(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, logCalls int
	reg.Register("telegram:", func(target string, a Alert) error {
		telegramCalls++
		if a.At.IsZero() {
			t.Error("expected alert timestamp to be set")
		}
		return nil
	})
	reg.Register("log:", func(target string, a Alert) error {
		logCalls++
		return nil
	})
	reg.AddTarget("telegram:42")
	reg.AddTarget("log:")

	if err := reg.Notify(context.Background(), Alert{Subject: "store integrity violation"}); err != nil {
		t.Fatal(err)
	}
	if telegramCalls != 1 || logCalls != 1 {
		t.Errorf("expected one call each, got telegram=%d log=%d", telegramCalls, logCalls)
	}
}

func TestRegistryNotifyCollectsErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken:", func(string, Alert) error { return errors.New("chat not found") })
	reg.AddTarget("broken:1")
	reg.AddTarget("missing:2")

	err := reg.Notify(context.Background(), Alert{Subject: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") || !strings.Contains(err.Error(), "missing:2") {
		t.Errorf("expected both failures reported, got %v", err)
	}
}

func TestRegistryNotifyWithoutTargets(t *testing.T) {
	if err := NewRegistry().Notify(context.Background(), Alert{Subject: "x"}); err != nil {
		t.Errorf("expected log fallback to succeed, got %v", err)
	}
}

func TestAlertText(t *testing.T) {
	a := Alert{Subject: "hash mismatch", RunID: "abc", Body: "gcode_hash differs"}
	want := "hash mismatch (run abc)\ngcode_hash differs"
	if got := a.Text(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
