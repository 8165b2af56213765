package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair. Operators get their
// first pair from the dialerctl CLI; there is no login endpoint.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		abort(c, http.StatusInternalServerError, "auth not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RefreshToken == "" {
		abort(c, http.StatusBadRequest, "refresh_token required")
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		abort(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}
