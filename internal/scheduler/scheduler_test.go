package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/rungov/internal/alert"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/state"
	"github.com/user/rungov/internal/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func seed(t *testing.T, store *state.ArtifactStore, n int) []types.RunID {
	t.Helper()
	var ids []types.RunID
	for i := 0; i < n; i++ {
		art := &types.RunArtifact{
			Mode:           "router",
			ToolID:         "router-6mm",
			Status:         types.StatusOK,
			RequestSummary: map[string]any{"mode": "router"},
			Feasibility:    json.RawMessage(`{"risk_level":"GREEN","warnings":[]}`),
			Decision:       types.Decision{RiskLevel: types.RiskGreen, Action: "ALLOW", Warnings: []string{}},
			Outputs:        &types.Outputs{GCodeText: "G21\nG1 X10 F500\n", Toolpaths: json.RawMessage(`[[0,0],[10,0]]`)},
		}
		hashes, err := digest.ComputeHashes(art.Feasibility, art.Outputs)
		if err != nil {
			t.Fatal(err)
		}
		art.Hashes = hashes
		id, err := store.Create(context.Background(), art)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func artifactPath(t *testing.T, root string, id types.RunID) string {
	t.Helper()
	day, err := id.Partition()
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(root, "artifacts", day, string(id)+".json")
}

func overwrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSweepClean(t *testing.T) {
	root := t.TempDir()
	store := state.NewArtifactStore(root)
	seed(t, store, 3)

	n := &recordingNotifier{}
	report, err := New(store, n, Config{Days: 2}).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 3 {
		t.Errorf("expected 3 checked, got %d", report.Checked)
	}
	if len(report.Mismatches) != 0 {
		t.Errorf("expected no mismatches, got %+v", report.Mismatches)
	}
	if n.count() != 0 {
		t.Errorf("clean sweep must not alert")
	}
}

func TestSweepDetectsTampering(t *testing.T) {
	root := t.TempDir()
	store := state.NewArtifactStore(root)
	ids := seed(t, store, 3)

	path := artifactPath(t, root, ids[1])
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	overwrite(t, path, bytes.Replace(data, []byte("X10 F500"), []byte("X99 F500"), 1))
	overwrite(t, artifactPath(t, root, ids[2]), []byte("{not json"))

	n := &recordingNotifier{}
	report, err := New(store, n, Config{Days: 2, Concurrency: 1}).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 3 {
		t.Errorf("expected 3 checked, got %d", report.Checked)
	}
	if len(report.Mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %+v", report.Mismatches)
	}
	got := map[types.RunID]bool{}
	for _, m := range report.Mismatches {
		got[m.RunID] = true
	}
	if !got[ids[1]] || !got[ids[2]] {
		t.Errorf("wrong mismatches %+v", report.Mismatches)
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", n.count())
	}
	if !strings.Contains(n.alerts[0].Body, string(ids[1])) {
		t.Errorf("alert should name the run, got %q", n.alerts[0].Body)
	}
}

func TestSweepSkipsOldPartitions(t *testing.T) {
	root := t.TempDir()
	store := state.NewArtifactStore(root)
	seed(t, store, 1)

	future := func() time.Time { return time.Now().AddDate(0, 0, 10) }
	report, err := New(store, nil, Config{Days: 1, Now: future}).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Partitions) != 0 || report.Checked != 0 {
		t.Errorf("expected nothing swept, got %+v", report)
	}
}

type brokenSource struct{}

func (brokenSource) Partitions(time.Time, time.Time) ([]string, error) {
	return []string{time.Now().UTC().Format(types.PartitionLayout)}, nil
}

func (brokenSource) Query(context.Context, types.ArtifactFilter) iter.Seq2[*types.RunArtifact, error] {
	return func(yield func(*types.RunArtifact, error) bool) {
		yield(nil, errors.New("disk gone"))
	}
}

func TestSweepReturnsReadErrors(t *testing.T) {
	if _, err := New(brokenSource{}, nil, Config{}).Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSchedulerFiresSweep(t *testing.T) {
	root := t.TempDir()
	store := state.NewArtifactStore(root)
	ids := seed(t, store, 1)
	overwrite(t, artifactPath(t, root, ids[0]), []byte("{"))

	n := &recordingNotifier{}
	sched := New(store, n, Config{Schedule: "* * * * * *", Days: 2})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("sweep did not fire within 2.5s")
		case <-ticker.C:
			if n.count() > 0 {
				return
			}
		}
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	sched := New(brokenSource{}, nil, Config{Schedule: "not a schedule"})
	if err := sched.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerDisabled(t *testing.T) {
	sched := New(brokenSource{}, nil, Config{})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	sched.Stop()
}
