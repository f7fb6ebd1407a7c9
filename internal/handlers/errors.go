package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/card-lobby/internal/lobby"
	"go.uber.org/zap"
)

// statusFor maps a lobby error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_argument":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "room_full", "invalid_state", "room_closed":
		return http.StatusConflict
	case "resource_exhausted":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(c *gin.Context, err error) {
	kind := lobby.Kind(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{"error": msg, "code": kind})
}
