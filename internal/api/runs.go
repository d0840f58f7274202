package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/rungov/internal/advisory"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/orchestrator"
	"github.com/user/rungov/internal/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type runResponse struct {
	RunID    types.RunID     `json:"run_id"`
	Status   types.RunStatus `json:"status"`
	Decision types.Decision  `json:"decision"`
	Outputs  *types.Outputs  `json:"outputs,omitempty"`
}

type runSummary struct {
	RunID         types.RunID     `json:"run_id"`
	CreatedAt     time.Time       `json:"created_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Mode          string          `json:"mode"`
	ToolID        string          `json:"tool_id"`
	Status        types.RunStatus `json:"status"`
	RiskLevel     types.RiskLevel `json:"risk_level"`
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Reason: "invalid JSON: " + err.Error()})
		return
	}

	outcome, err := s.runner.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse{
		RunID:    outcome.RunID,
		Status:   outcome.Status,
		Decision: outcome.Decision,
		Outputs:  outcome.Outputs,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result := make([]runSummary, 0)
	for art, err := range s.artifacts.Query(c.Request.Context(), filter) {
		if err != nil {
			writeError(c, fmt.Errorf("query artifacts: %w", err))
			return
		}
		result = append(result, runSummary{
			RunID:         art.RunID,
			CreatedAt:     art.CreatedAt,
			CorrelationID: art.CorrelationID,
			Mode:          art.Mode,
			ToolID:        art.ToolID,
			Status:        art.Status,
			RiskLevel:     art.Decision.RiskLevel,
		})
	}
	c.JSON(http.StatusOK, result)
}

func parseFilter(c *gin.Context) (types.ArtifactFilter, error) {
	f := types.ArtifactFilter{
		Mode:   c.Query("mode"),
		ToolID: c.Query("tool_id"),
		Limit:  defaultListLimit,
	}
	if v := c.Query("status"); v != "" {
		st, ok := types.ParseRunStatus(strings.ToUpper(v))
		if !ok {
			return f, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
		}
		f.Status = st
	}
	var err error
	if f.From, err = parseTime("from", c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", c.Query("to")); err != nil {
		return f, err
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, &types.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		f.Limit = min(n, maxListLimit)
	}
	for _, kv := range c.QueryArray("meta") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return f, &types.ValidationError{Field: "meta", Reason: fmt.Sprintf("expected key=value, got %q", kv)}
		}
		if f.Meta == nil {
			f.Meta = make(map[string]string)
		}
		f.Meta[k] = v
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a bare partition day.
func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(types.PartitionLayout, v); err == nil {
		return t, nil
	}
	return time.Time{}, &types.ValidationError{Field: field, Reason: "expected RFC 3339 time or YYYY-MM-DD"}
}

// handleGetRun returns the exact stored bytes so callers can hash them.
func (s *Server) handleGetRun(c *gin.Context) {
	id := types.RunID(c.Param("id"))
	raw, found, err := s.artifacts.GetRaw(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, fmt.Errorf("run %s: %w", id, types.ErrNotFound))
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (s *Server) handleVerifyRun(c *gin.Context) {
	id := types.RunID(c.Param("id"))
	art, found, err := s.artifacts.Get(c.Request.Context(), id)
	var integrity *types.StoreIntegrityError
	if err != nil && !errors.As(err, &integrity) {
		writeError(c, err)
		return
	}
	if err == nil && !found {
		writeError(c, fmt.Errorf("run %s: %w", id, types.ErrNotFound))
		return
	}
	if err == nil {
		err = digest.VerifyArtifact(art)
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"run_id": id, "verified": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "verified": true, "hashes": art.Hashes})
}

type advisoryRequest struct {
	Author      string `json:"author"`
	Kind        string `json:"kind"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Server) handleAppendAdvisory(c *gin.Context) {
	id := types.RunID(c.Param("id"))
	var req advisoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Reason: "invalid JSON: " + err.Error()})
		return
	}
	body, err := advisory.Normalize(req.ContentType, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	link := &types.AdvisoryLink{Author: req.Author, Kind: req.Kind, Body: body}
	if err := s.artifacts.AppendAdvisoryLink(c.Request.Context(), id, link); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (s *Server) handleListAdvisories(c *gin.Context) {
	id := types.RunID(c.Param("id"))
	links, err := s.artifacts.Advisories(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, links)
}
