package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/rungov/internal/types"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps err onto a status and code. Internal failures never leak
// their message; the run id is enough to find the ERROR artifact.
func writeError(c *gin.Context, err error) {
	var (
		ve *types.ValidationError
		se *types.SafetyBlockedError
		te *types.IllegalTransitionError
		fe *types.FeasibilityAdapterError
		ce *types.CollaboratorError
		ie *types.StoreIntegrityError
	)
	details := map[string]any{}
	if id, ok := types.RunIDOf(err); ok {
		details["run_id"] = id
	}

	switch {
	case errors.As(err, &ve):
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", ve.Error(), details)
		return
	case errors.As(err, &se):
		details["risk_level"] = se.RiskLevel
		details["block_reason"] = se.Reason
		details["warnings"] = nonNil(se.Warnings)
		writeErrorCode(c, http.StatusConflict, "SAFETY_BLOCKED", "run blocked by safety gate", details)
		return
	case errors.As(err, &te):
		details["state"] = te.State
		details["action"] = te.Action
		writeErrorCode(c, http.StatusConflict, "ILLEGAL_TRANSITION", te.Error(), details)
		return
	case errors.Is(err, types.ErrNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
		return
	case errors.Is(err, types.ErrConflict):
		writeErrorCode(c, http.StatusConflict, "CONFLICT", "concurrent update, retry", details)
		return
	}

	code := "INTERNAL"
	switch {
	case errors.As(err, &fe):
		code = "FEASIBILITY_UNAVAILABLE"
	case errors.As(err, &ce):
		code = "GENERATION_FAILED"
	case errors.As(err, &ie):
		code = "STORE_INTEGRITY"
	}
	slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
	writeErrorCode(c, http.StatusInternalServerError, code, "internal error", details)
}

func writeErrorCode(c *gin.Context, status int, code, message string, details map[string]any) {
	if len(details) == 0 {
		details = nil
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
