package httpapi

import (
	"net/http"

	"campaign-dialer/internal/audit"

	"github.com/gin-gonic/gin"
)

func (h Handlers) ListAudit(c *gin.Context) {
	limit, _, ok := page(c)
	if !ok {
		return
	}
	evs, err := h.Audit.List(c.Request.Context(), audit.Query{
		CampaignID: c.Query("campaign_id"),
		CallID:     c.Query("call_id"),
		Type:       audit.EventType(c.Query("type")),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
