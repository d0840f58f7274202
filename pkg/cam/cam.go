// Package cam defines the toolpath generation collaborator.
package cam

import (
	"context"
	"encoding/json"
	"errors"
)

// Generator produces toolpaths for a request that passed the safety gate.
// Implementations handle engine-specific details such as transport and
// authentication; callers only hash and store what comes back.
type Generator interface {
	Generate(ctx context.Context, mode string, input map[string]any) (*Result, error)
}

// Result holds the payloads returned by a CAM engine.
type Result struct {
	Toolpaths json.RawMessage `json:"toolpaths"`
	GCodeText string          `json:"gcode_text,omitempty"`
	OpPlan    json.RawMessage `json:"opplan,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Config holds common configuration for CAM engine clients.
type Config struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("no toolpath generator configured")

// Unavailable is the Generator used when no engine is configured. Every
// run that reaches generation ends as an ERROR artifact.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string, map[string]any) (*Result, error) {
	return nil, ErrUnavailable
}

// GeneratorFunc adapts a plain function to a Generator.
type GeneratorFunc func(ctx context.Context, mode string, input map[string]any) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, mode string, input map[string]any) (*Result, error) {
	return f(ctx, mode, input)
}
