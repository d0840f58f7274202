package digest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/user/rungov/internal/types"
)

func TestCanonicalizeIgnoresFormatting(t *testing.T) {
	a := []byte(`{"b": 1, "a": [true, null, "x"], "c": {"z": 2.50, "y": 1e2}}`)
	b := []byte("{\n  \"c\": {\"y\": 100, \"z\": 2.5},\n  \"a\": [true,null,\"x\"],\n  \"b\": 1.0\n}")

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
	want := `{"a":[true,null,"x"],"b":1,"c":{"y":100,"z":2.5}}`
	if string(ca) != want {
		t.Errorf("expected %s, got %s", want, ca)
	}
}

func TestCanonicalizeLargeIntegers(t *testing.T) {
	a, err := JSON([]byte(`{"serial":9007199254740993}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := JSON([]byte(`{"serial":9007199254740992}`))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("integers above 2^53 must not share a hash")
	}

	got, err := Canonicalize([]byte(`[9223372036854775807, -0, 1.0]`))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `[9223372036854775807,0,1]` {
		t.Errorf("unexpected canonical form %s", got)
	}
}

func TestCanonicalizeRejectsOutOfRangeNumbers(t *testing.T) {
	if _, err := Canonicalize([]byte(`{"depth":1e400}`)); err == nil {
		t.Error("expected error for a number outside float64 range")
	}
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	if _, err := Canonicalize([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for trailing data")
	}
	if _, err := Canonicalize([]byte(`{"a":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestCanonicalizeDoesNotEscapeHTML(t *testing.T) {
	got, err := Canonicalize([]byte(`{"note":"a<b & c>d"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"note":"a<b & c>d"}` {
		t.Errorf("unexpected canonical form %s", got)
	}
}

func TestValueMatchesJSON(t *testing.T) {
	v := map[string]any{"risk_level": "GREEN", "score": 92}
	hv, err := Value(v)
	if err != nil {
		t.Fatal(err)
	}
	hj, err := JSON([]byte(`{ "score": 92.0, "risk_level": "GREEN" }`))
	if err != nil {
		t.Fatal(err)
	}
	if hv != hj {
		t.Errorf("expected equal hashes, got %s and %s", hv, hj)
	}
	if !strings.HasPrefix(hv, Prefix) {
		t.Errorf("expected %s prefix, got %s", Prefix, hv)
	}
}

func TestVerifyArtifact(t *testing.T) {
	feas := json.RawMessage(`{"risk_level":"GREEN","score":92}`)
	outputs := &types.Outputs{
		Toolpaths: json.RawMessage(`[{"x":0,"y":0},{"x":10,"y":0}]`),
		GCodeText: "G21\nG0 X0 Y0\nG1 X10 Y0\n",
	}
	hashes, err := ComputeHashes(feas, outputs)
	if err != nil {
		t.Fatal(err)
	}
	if hashes.GCode == "" || hashes.Toolpaths == "" || hashes.OpPlan != "" {
		t.Fatalf("unexpected hash set %+v", hashes)
	}

	art := &types.RunArtifact{Feasibility: feas, Outputs: outputs, Hashes: hashes}
	if err := VerifyArtifact(art); err != nil {
		t.Fatalf("expected valid artifact, got %v", err)
	}

	// Indentation on disk must not change the hash.
	art.Feasibility = json.RawMessage("{\n  \"score\": 92,\n  \"risk_level\": \"GREEN\"\n}")
	if err := VerifyArtifact(art); err != nil {
		t.Fatalf("expected reformatted payload to verify, got %v", err)
	}

	art.Outputs.GCodeText = "G21\nG0 X0 Y0\nG1 X99 Y0\n"
	err = VerifyArtifact(art)
	if !errors.Is(err, types.ErrHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "gcode_hash") {
		t.Errorf("expected gcode_hash in error, got %v", err)
	}
}

func TestVerifyArtifactRequiresFeasibilityHash(t *testing.T) {
	art := &types.RunArtifact{Feasibility: json.RawMessage(`{}`)}
	if err := VerifyArtifact(art); !errors.Is(err, types.ErrHashMismatch) {
		t.Errorf("expected hash mismatch for missing feasibility hash, got %v", err)
	}
}
