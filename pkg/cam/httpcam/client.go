// Package httpcam implements cam.Generator over a JSON HTTP API.
package httpcam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/rungov/pkg/cam"
)

// maxResponseBytes bounds the body read from the engine.
const maxResponseBytes = 32 << 20

// Client posts generation requests to {BaseURL}/generate.
type Client struct {
	config     *cam.Config
	httpClient *http.Client
}

// New creates a CAM client with the given configuration.
func New(config *cam.Config) *Client {
	timeout := 60 * time.Second
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Mode    string         `json:"mode"`
	Context map[string]any `json:"context"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Generate sends the validated context to the engine and returns its
// payloads untouched.
func (c *Client) Generate(ctx context.Context, mode string, input map[string]any) (*cam.Result, error) {
	body, err := json.Marshal(generateRequest{Mode: mode, Context: input})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("CAM engine error (status %d, %s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("CAM engine error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result cam.Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Toolpaths) == 0 || string(result.Toolpaths) == "null" {
		return nil, errors.New("CAM engine returned no toolpaths")
	}
	return &result, nil
}
