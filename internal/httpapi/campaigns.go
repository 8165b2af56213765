package httpapi

import (
	"net/http"
	"strings"

	"campaign-dialer/internal/aggregator"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/leads"

	"github.com/gin-gonic/gin"
)

type campaignRequest struct {
	Name          string              `json:"name"`
	Type          campaigns.Type      `json:"type"`
	ScriptID      string              `json:"script_id"`
	MaxConcurrent int                 `json:"max_concurrent"`
	CallsPerHour  int                 `json:"calls_per_hour"`
	Schedule      *campaigns.Schedule `json:"schedule,omitempty"`
	Filter        leads.Filter        `json:"filter"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	in := campaigns.Campaign{
		Name:          req.Name,
		Type:          req.Type,
		ScriptID:      req.ScriptID,
		MaxConcurrent: req.MaxConcurrent,
		CallsPerHour:  req.CallsPerHour,
		Filter:        req.Filter,
	}
	if req.Schedule != nil {
		in.Schedule = *req.Schedule
	}
	cp, err := h.Campaigns.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	q := campaigns.ListQuery{
		Status: campaigns.Status(strings.ToLower(c.Query("status"))),
		Type:   campaigns.Type(strings.ToLower(c.Query("type"))),
		Limit:  limit,
		Offset: offset,
	}
	out, err := h.Campaigns.List(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	cp, err := h.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

type campaignPatchRequest struct {
	Name          *string             `json:"name,omitempty"`
	Type          *campaigns.Type     `json:"type,omitempty"`
	ScriptID      *string             `json:"script_id,omitempty"`
	MaxConcurrent *int                `json:"max_concurrent,omitempty"`
	CallsPerHour  *int                `json:"calls_per_hour,omitempty"`
	Schedule      *campaigns.Schedule `json:"schedule,omitempty"`
	Filter        *leads.Filter       `json:"filter,omitempty"`
}

func (h Handlers) UpdateCampaign(c *gin.Context) {
	var req campaignPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	cp, err := h.Campaigns.Update(c.Request.Context(), c.Param("id"), campaigns.Patch(req))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// CampaignLifecycle serves activate, pause, resume and complete. The
// operation comes from the last path segment.
func (h Handlers) CampaignLifecycle(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		a := actor(c)

		var (
			cp  campaigns.Campaign
			err error
		)
		switch op {
		case "activate":
			cp, err = h.Campaigns.Activate(ctx, a, id)
		case "pause":
			var req pauseRequest
			if c.Request.ContentLength > 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					abort(c, http.StatusBadRequest, "invalid json")
					return
				}
			}
			cp, err = h.Campaigns.Pause(ctx, a, id, campaigns.PauseManual, strings.TrimSpace(req.Reason))
		case "resume":
			cp, err = h.Campaigns.Resume(ctx, a, id)
		case "complete":
			cp, err = h.Campaigns.Complete(ctx, a, id)
		default:
			abort(c, http.StatusNotFound, "unknown operation")
			return
		}
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": cp.ID, "status": cp.Status, "script_version": cp.ScriptVersion})
	}
}

func (h Handlers) CampaignStats(c *gin.Context) {
	ctx := c.Request.Context()
	cp, err := h.Campaigns.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	total, err := h.Leads.CountForCampaign(ctx, cp.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var st aggregator.CampaignStats
	if h.Aggregator != nil {
		st = h.Aggregator.CampaignStats(cp.ID)
	}
	st.CampaignID = cp.ID
	st.TotalLeads = total
	c.JSON(http.StatusOK, st)
}

func (h Handlers) CampaignRuntime(c *gin.Context) {
	cp, err := h.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Pacing.RuntimeState(cp.ID))
}
