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

	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
)

func (a *ArtifactStore) advisoriesDir(id types.RunID) string {
	return filepath.Join(a.root, "advisories", string(id))
}

// AppendAdvisoryLink stores link as a new record keyed by its parent run.
// The parent artifact file is only stat'ed, never opened for writing.
func (a *ArtifactStore) AppendAdvisoryLink(ctx context.Context, id types.RunID, link *types.AdvisoryLink) error {
	if link == nil {
		return errors.New("append advisory: nil link")
	}
	if err := a.requireArtifact(id); err != nil {
		return err
	}

	link.AdvisoryID = types.NewAdvisoryID()
	link.RunID = id
	link.CreatedAt = a.now().UTC()
	if link.Kind == "" {
		link.Kind = "note"
	}
	link.BodyHash = digest.Text(link.Body)

	content, err := json.MarshalIndent(link, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal advisory: %w", err)
	}

	dir := a.advisoriesDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &types.IOError{RunID: id, Op: "create advisories dir", Err: err}
	}
	if err := writeOnce(filepath.Join(dir, string(link.AdvisoryID)+".json"), content); err != nil {
		if errors.Is(err, errExists) {
			return &types.StoreIntegrityError{RunID: id, Reason: "advisory id collision", Err: types.ErrDuplicateID}
		}
		return &types.IOError{RunID: id, Op: "write advisory", Err: err}
	}
	return nil
}

// Advisories returns every advisory link of a run, oldest first.
func (a *ArtifactStore) Advisories(ctx context.Context, id types.RunID) ([]*types.AdvisoryLink, error) {
	if err := a.requireArtifact(id); err != nil {
		return nil, err
	}

	dir := a.advisoriesDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.AdvisoryLink{}, nil
		}
		return nil, fmt.Errorf("list advisories: %w", err)
	}

	links := make([]*types.AdvisoryLink, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read advisory: %w", err)
		}
		var link types.AdvisoryLink
		if err := json.Unmarshal(data, &link); err != nil {
			return nil, fmt.Errorf("unmarshal advisory %s: %w", name, err)
		}
		links = append(links, &link)
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].AdvisoryID < links[j].AdvisoryID
	})
	return links, nil
}

func (a *ArtifactStore) requireArtifact(id types.RunID) error {
	if !id.Valid() {
		return fmt.Errorf("run %s: %w", id, types.ErrNotFound)
	}
	path, _ := a.artifactPath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %s: %w", id, types.ErrNotFound)
		}
		return fmt.Errorf("stat artifact: %w", err)
	}
	return nil
}
