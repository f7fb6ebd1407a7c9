package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const guestTokenTTL = 24 * time.Hour

// GuestTokenResponse represents the guest login response
type GuestTokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// GuestToken issues a token for an anonymous player. Guests carry no account,
// so their seats are never linked and they earn no stats.
// Account tokens come from mossp.me-api.
func (s *Server) GuestToken(c *gin.Context) {
	userID := "guest-" + uuid.New().String()

	token, err := s.identity.Issue(userID, "", guestTokenTTL)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GuestTokenResponse{
		Token:  token,
		UserID: userID,
	})
}
