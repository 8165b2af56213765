package httpapi

import (
	"net/http"
	"strings"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"

	"github.com/gin-gonic/gin"
)

type dialRequest struct {
	LeadID   string `json:"lead_id"`
	ScriptID string `json:"script_id"`
}

// Dial places an ad hoc call outside any campaign.
func (h Handlers) Dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	call, err := h.Pacing.DialAdHoc(c.Request.Context(), strings.TrimSpace(req.LeadID), strings.TrimSpace(req.ScriptID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, call)
}

func (h Handlers) ListCalls(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	out, err := h.Calls.List(c.Request.Context(), calls.ListQuery{
		CampaignID: c.Query("campaign_id"),
		LeadID:     c.Query("lead_id"),
		Status:     calls.Status(strings.ToLower(c.Query("status"))),
		Finished:   c.Query("finished") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// GetCall returns the stored call. A call still in flight also carries its live session state.
func (h Handlers) GetCall(c *gin.Context) {
	id := c.Param("id")
	if live, st, ok := h.Calls.Live(id); ok {
		c.JSON(http.StatusOK, gin.H{"call": live, "live": st})
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) CallEvents(c *gin.Context) {
	evs, err := h.Calls.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) VoidCall(c *gin.Context) {
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	call, err := h.Aggregator.Void(c.Request.Context(), actor(c), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type correctRequest struct {
	Disposition string `json:"disposition"`
}

// CorrectCall changes the disposition of a finalized call and re-posts its rollup contribution.
func (h Handlers) CorrectCall(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	d := disposition.Disposition(strings.ToLower(strings.TrimSpace(req.Disposition)))
	if !d.Valid() {
		abort(c, http.StatusBadRequest, "unknown disposition")
		return
	}
	call, err := h.Aggregator.Correct(c.Request.Context(), actor(c), c.Param("id"), d)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CallLedger(c *gin.Context) {
	entries, err := h.Aggregator.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
