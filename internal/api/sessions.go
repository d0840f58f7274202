package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/internal/workflow"
)

type sessionResponse struct {
	*types.SessionRecord
	AllowedActions []workflow.Action `json:"allowed_actions"`
}

func toSessionResponse(s *workflow.Session) sessionResponse {
	allowed := workflow.Allowed(s.State())
	if allowed == nil {
		allowed = []workflow.Action{}
	}
	return sessionResponse{SessionRecord: s.Record(), AllowedActions: allowed}
}

type createSessionRequest struct {
	DesignRef string `json:"design_ref"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Reason: "invalid JSON: " + err.Error()})
		return
	}
	sess, err := s.sessions.Create(c.Request.Context(), req.DesignRef)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleListSessions(c *gin.Context) {
	list, err := s.sessions.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	result := make([]sessionResponse, 0, len(list))
	for _, sess := range list {
		result = append(result, toSessionResponse(sess))
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), types.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

type actionRequest struct {
	Action     string `json:"action"`
	RunID      string `json:"run_id"`
	ContextRef string `json:"context_ref"`
	Actor      string `json:"actor"`
	Note       string `json:"note"`
}

func (s *Server) handleAdvanceSession(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Reason: "invalid JSON: " + err.Error()})
		return
	}
	action, ok := workflow.ParseAction(req.Action)
	if !ok {
		writeError(c, &types.ValidationError{Field: "action", Reason: "unknown action " + req.Action})
		return
	}
	sess, err := s.sessions.Advance(c.Request.Context(), types.SessionID(c.Param("id")), workflow.Transition{
		Action:     action,
		RunID:      types.RunID(req.RunID),
		ContextRef: req.ContextRef,
		Actor:      req.Actor,
		Note:       req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}
