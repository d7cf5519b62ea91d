package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/service"
)

var statusByKind = map[service.Kind]int{
	service.KindUnauthorized:       http.StatusUnauthorized,
	service.KindForbidden:          http.StatusForbidden,
	service.KindNotFound:           http.StatusNotFound,
	service.KindInvalidInput:       http.StatusBadRequest,
	service.KindConflict:           http.StatusConflict,
	service.KindUpstream:           http.StatusBadGateway,
	service.KindInvalidCredentials: http.StatusUnauthorized,
	service.KindInvalidInvite:      http.StatusForbidden,
	service.KindUserExists:         http.StatusConflict,
}

// respondError writes the error envelope. Unclassified errors are logged
// and reported as INTERNAL without details.
func (h *Handler) respondError(c *gin.Context, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		status, ok := statusByKind[se.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if se.Kind == service.KindUpstream {
			h.log.Warn("upstream failure", "error", err, "request_id", c.GetString(requestIDKey))
		}
		abortWithError(c, status, se.Code, se.Message)
		return
	}

	h.log.Error("internal error", "error", err, "request_id", c.GetString(requestIDKey))
	abortWithError(c, http.StatusInternalServerError, service.CodeInternal, "Internal server error")
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:   code,
		Message: message,
	})
}

func badRequest(c *gin.Context, message string) {
	abortWithError(c, http.StatusBadRequest, service.CodeInvalidInput, message)
}
