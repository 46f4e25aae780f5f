package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
)

// errorResponse is the body of every failed request. Details carries the
// typed error, e.g. the missing ids of a reorder or the paths of an
// ambiguous deletion.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// statusOf maps a domain error to its status and code
func statusOf(err error) (int, string, any) {
	var (
		validation  *errs.ValidationError
		conflict    *errs.ConflictError
		notFound    *errs.NotFoundError
		ambiguous   *errs.AmbiguousDeletionError
		cycle       *errs.CycleError
		unsupported *errs.UnsupportedError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation", validation
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict", conflict
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found", notFound
	case errors.As(err, &ambiguous):
		return http.StatusConflict, "ambiguous_deletion", ambiguous
	case errors.As(err, &cycle):
		return http.StatusUnprocessableEntity, "cycle", cycle
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity, "unsupported", unsupported
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "unavailable", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", nil
	}
	return http.StatusInternalServerError, "internal", nil
}

// respondError writes err with its mapped status. Unmapped errors are logged
// and their message is not sent to the client.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status, code, details := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			append(tracing.Fields(c.Request.Context()),
				zap.String("path", c.FullPath()),
				zap.Error(err))...)
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code, Details: details})
}

// badRequest reports a malformed request body or parameter
func (h *Handlers) badRequest(c *gin.Context, field string, err error) {
	h.respondError(c, errs.Validation(field, "%v", err))
}
