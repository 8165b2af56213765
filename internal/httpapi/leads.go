package httpapi

import (
	"net/http"
	"strings"

	"campaign-dialer/internal/leads"

	"github.com/gin-gonic/gin"
)

// maxImportBytes bounds an uploaded workbook.
const maxImportBytes = 10 << 20

type leadRequest struct {
	CampaignID string       `json:"campaign_id"`
	Name       string       `json:"name"`
	Phone      string       `json:"phone"`
	Email      string       `json:"email"`
	Source     string       `json:"source"`
	Priority   int          `json:"priority"`
	Notes      string       `json:"notes"`
	Status     leads.Status `json:"status"`
}

func (h Handlers) CreateLead(c *gin.Context) {
	var req leadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	l, err := h.Leads.Create(c.Request.Context(), leads.Lead{
		CampaignID: strings.TrimSpace(req.CampaignID),
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      strings.TrimSpace(req.Email),
		Source:     strings.TrimSpace(req.Source),
		Priority:   req.Priority,
		Notes:      req.Notes,
		Status:     req.Status,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h Handlers) ListLeads(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	out, err := h.Leads.List(c.Request.Context(), leads.ListQuery{
		CampaignID:     c.Query("campaign_id"),
		Status:         leads.Status(strings.ToLower(c.Query("status"))),
		Source:         c.Query("source"),
		IncludeDeleted: c.Query("include_deleted") == "true",
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": out})
}

func (h Handlers) GetLead(c *gin.Context) {
	l, err := h.Leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// UpdateLead is the manual override surface, including status changes.
func (h Handlers) UpdateLead(c *gin.Context) {
	var patch leads.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	l, err := h.Leads.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h Handlers) DeleteLead(c *gin.Context) {
	if err := h.Leads.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ImportLeads accepts a multipart upload with an xlsx "file" field and an
// optional campaign_id form value.
func (h Handlers) ImportLeads(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	res, err := h.Leads.Import(c.Request.Context(), strings.TrimSpace(c.PostForm("campaign_id")), f)
	if err != nil {
		h.log(c).Warn("lead import failed", "file", fh.Filename, "created", res.Created, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}
