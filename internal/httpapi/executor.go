package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/executor"
	"campaign-dialer/internal/pacing"

	"github.com/gin-gonic/gin"
)

// HeaderExecutorSecret carries the shared secret on executor callbacks.
const HeaderExecutorSecret = "X-Executor-Secret"

// RequireExecutorSecret authenticates executor callbacks. With no secret
// configured every callback is refused.
func RequireExecutorSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			abort(c, http.StatusServiceUnavailable, "executor callbacks not configured")
			return
		}
		got := []byte(c.GetHeader(HeaderExecutorSecret))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			abort(c, http.StatusUnauthorized, "invalid executor secret")
			return
		}
		c.Next()
	}
}

// ExecutorEvent applies one session event. Redeliveries are acknowledged.
func (h Handlers) ExecutorEvent(c *gin.Context) {
	var p executor.EventPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	callID := c.Param("id")
	step, err := h.Calls.OnEvent(c.Request.Context(), callID, p.ToEvent(callID, ""))
	if errors.Is(err, calls.ErrSessionClosed) {
		h.log(c).Info("event for ended call ignored", "call_id", callID, "event_id", p.ID)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// ExecutorTerminal finalizes a call. A second terminal report is acknowledged
// without changing anything.
func (h Handlers) ExecutorTerminal(c *gin.Context) {
	var p executor.TerminalPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := p.ToReport()
	if err != nil {
		h.writeError(c, err)
		return
	}
	callID := c.Param("id")
	call, err := h.Calls.OnTerminal(c.Request.Context(), callID, r)
	if errors.Is(err, calls.ErrFinalizationConflict) {
		h.log(c).Info("duplicate terminal report ignored", "call_id", callID)
		c.JSON(http.StatusOK, gin.H{"duplicate": true})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// ExecutorInbound asks whether an answered inbound call may proceed.
// Rejections are 200 responses carrying action=reject.
func (h Handlers) ExecutorInbound(c *gin.Context) {
	var p executor.InboundPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.Pacing.AdmitInbound(c.Request.Context(), pacing.InboundRequest{
		ExecutorSessionID: p.SessionID,
		CampaignID:        p.CampaignID,
		From:              p.From,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
