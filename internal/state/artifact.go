// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
)

// ArtifactStore stores run artifacts as individual JSON files partitioned by
// creation day. Files are located at artifacts/<YYYY-MM-DD>/<runID>.json; the
// day is derived from the run ID itself, so lookup by ID never scans.
type ArtifactStore struct {
	root string
	now  func() time.Time
}

// NewArtifactStore creates a new file-backed ArtifactStore rooted at the given directory.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root, now: time.Now}
}

func (a *ArtifactStore) artifactsDir() string {
	return filepath.Join(a.root, "artifacts")
}

func (a *ArtifactStore) partitionDir(day string) string {
	return filepath.Join(a.artifactsDir(), day)
}

func (a *ArtifactStore) artifactPath(id types.RunID) (string, error) {
	day, err := id.Partition()
	if err != nil {
		return "", err
	}
	return filepath.Join(a.partitionDir(day), string(id)+".json"), nil
}

// Create validates and persists a new artifact. An empty RunID is allocated
// here; CreatedAt is always taken from the run ID so record and partition
// agree. Fails with a StoreIntegrityError on ID collision or an artifact that
// breaks its own invariants, and with an IOError on write failure.
func (a *ArtifactStore) Create(ctx context.Context, art *types.RunArtifact) (types.RunID, error) {
	if art == nil {
		return "", errors.New("create artifact: nil artifact")
	}
	if art.RunID == "" {
		art.RunID = types.NewRunID()
	}
	id := art.RunID
	if err := ctx.Err(); err != nil {
		return "", &types.IOError{RunID: id, Op: "create artifact", Err: err}
	}

	ts, err := id.Time()
	if err != nil {
		return "", &types.StoreIntegrityError{RunID: id, Reason: "invalid run id", Err: err}
	}
	art.CreatedAt = ts

	if err := art.CheckInvariants(); err != nil {
		return "", &types.StoreIntegrityError{RunID: id, Reason: "artifact violates invariants", Err: err}
	}
	if err := digest.VerifyArtifact(art); err != nil {
		return "", &types.StoreIntegrityError{RunID: id, Reason: "hash self-check failed", Err: err}
	}

	content, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	path, _ := a.artifactPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &types.IOError{RunID: id, Op: "create partition", Err: err}
	}
	if err := writeOnce(path, content); err != nil {
		if errors.Is(err, errExists) {
			return "", &types.StoreIntegrityError{RunID: id, Reason: "run id collision", Err: types.ErrDuplicateID}
		}
		return "", &types.IOError{RunID: id, Op: "write artifact", Err: err}
	}
	return id, nil
}

// GetRaw returns the exact committed bytes of an artifact.
func (a *ArtifactStore) GetRaw(ctx context.Context, id types.RunID) ([]byte, bool, error) {
	if !id.Valid() {
		return nil, false, nil
	}
	path, _ := a.artifactPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read artifact file: %w", err)
	}
	return data, true, nil
}

// Get returns a complete, previously committed artifact or found=false.
func (a *ArtifactStore) Get(ctx context.Context, id types.RunID) (*types.RunArtifact, bool, error) {
	data, found, err := a.GetRaw(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	art, err := decodeArtifact(data)
	if err != nil {
		return nil, false, &types.StoreIntegrityError{RunID: id, Reason: "unreadable artifact", Err: err}
	}
	return art, true, nil
}

func decodeArtifact(data []byte) (*types.RunArtifact, error) {
	var art types.RunArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &art, nil
}

// Query yields artifacts matching filter in creation order. Only partitions
// overlapping [filter.From, filter.To) are opened.
func (a *ArtifactStore) Query(ctx context.Context, filter types.ArtifactFilter) iter.Seq2[*types.RunArtifact, error] {
	return func(yield func(*types.RunArtifact, error) bool) {
		days, err := a.partitions(filter.From, filter.To)
		if err != nil {
			yield(nil, err)
			return
		}

		yielded := 0
		for _, day := range days {
			entries, err := os.ReadDir(a.partitionDir(day))
			if err != nil {
				if !yield(nil, fmt.Errorf("read partition %s: %w", day, err)) {
					return
				}
				continue
			}
			// Run IDs are time-ordered, so name order is creation order.
			for _, entry := range entries {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				name := entry.Name()
				if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
					continue
				}
				data, err := os.ReadFile(filepath.Join(a.partitionDir(day), name))
				if err != nil {
					if !yield(nil, fmt.Errorf("read artifact file: %w", err)) {
						return
					}
					continue
				}
				art, err := decodeArtifact(data)
				if err != nil {
					id := types.RunID(strings.TrimSuffix(name, ".json"))
					if !yield(nil, &types.StoreIntegrityError{RunID: id, Reason: "unreadable artifact", Err: err}) {
						return
					}
					continue
				}
				if !matches(art, filter) {
					continue
				}
				if !yield(art, nil) {
					return
				}
				yielded++
				if filter.Limit > 0 && yielded >= filter.Limit {
					return
				}
			}
		}
	}
}

// Partitions lists the partition keys overlapping [from, to), oldest first.
func (a *ArtifactStore) Partitions(from, to time.Time) ([]string, error) {
	return a.partitions(from, to)
}

func (a *ArtifactStore) partitions(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(a.artifactsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var days []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		start, err := time.Parse(types.PartitionLayout, entry.Name())
		if err != nil {
			continue
		}
		end := start.Add(24 * time.Hour)
		if !from.IsZero() && !end.After(from) {
			continue
		}
		if !to.IsZero() && !start.Before(to) {
			continue
		}
		days = append(days, entry.Name())
	}
	sort.Strings(days)
	return days, nil
}

func matches(art *types.RunArtifact, f types.ArtifactFilter) bool {
	if f.Mode != "" && art.Mode != f.Mode {
		return false
	}
	if f.ToolID != "" && art.ToolID != f.ToolID {
		return false
	}
	if f.Status != "" && art.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && art.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !art.CreatedAt.Before(f.To) {
		return false
	}
	for k, v := range f.Meta {
		if art.Meta[k] != v {
			return false
		}
	}
	return true
}
