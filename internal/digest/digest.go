package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/user/rungov/internal/types"
)

// Prefix tags every hash with its algorithm.
const Prefix = "sha256:"

// Bytes hashes raw bytes without canonicalisation.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

// JSON hashes the canonical form of a JSON document.
func JSON(raw []byte) (string, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return Bytes(canon), nil
}

// Value hashes the canonical JSON encoding of v.
func Value(v any) (string, error) {
	canon, err := CanonicalizeAny(v)
	if err != nil {
		return "", err
	}
	return Bytes(canon), nil
}

// Text hashes a text payload byte for byte.
func Text(s string) string {
	return Bytes([]byte(s))
}

// ComputeHashes fills the hash set for a feasibility payload and optional
// outputs.
func ComputeHashes(feasibility []byte, outputs *types.Outputs) (types.Hashes, error) {
	var h types.Hashes
	fh, err := JSON(feasibility)
	if err != nil {
		return h, fmt.Errorf("hash feasibility: %w", err)
	}
	h.Feasibility = fh
	if outputs == nil {
		return h, nil
	}
	if len(outputs.Toolpaths) > 0 {
		if h.Toolpaths, err = JSON(outputs.Toolpaths); err != nil {
			return h, fmt.Errorf("hash toolpaths: %w", err)
		}
	}
	if outputs.GCodeText != "" {
		h.GCode = Text(outputs.GCodeText)
	}
	if len(outputs.OpPlan) > 0 {
		if h.OpPlan, err = JSON(outputs.OpPlan); err != nil {
			return h, fmt.Errorf("hash opplan: %w", err)
		}
	}
	if len(outputs.Metadata) > 0 {
		if h.Metadata, err = JSON(outputs.Metadata); err != nil {
			return h, fmt.Errorf("hash metadata: %w", err)
		}
	}
	return h, nil
}

// VerifyArtifact re-hashes every payload of a and compares against the
// stored hashes. A mismatch wraps types.ErrHashMismatch.
func VerifyArtifact(a *types.RunArtifact) error {
	if a.Hashes.Feasibility == "" {
		return fmt.Errorf("feasibility_hash missing: %w", types.ErrHashMismatch)
	}
	want, err := ComputeHashes(a.Feasibility, a.Outputs)
	if err != nil {
		return err
	}
	checks := []struct {
		name      string
		got, want string
	}{
		{"feasibility_hash", a.Hashes.Feasibility, want.Feasibility},
		{"toolpaths_hash", a.Hashes.Toolpaths, want.Toolpaths},
		{"gcode_hash", a.Hashes.GCode, want.GCode},
		{"opplan_hash", a.Hashes.OpPlan, want.OpPlan},
		{"metadata_hash", a.Hashes.Metadata, want.Metadata},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%s: stored %q, computed %q: %w", c.name, c.got, c.want, types.ErrHashMismatch)
		}
	}
	return nil
}
