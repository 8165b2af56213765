package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"campaign-dialer/internal/aggregator"
	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/leads"
	"campaign-dialer/internal/pacing"
	"campaign-dialer/internal/script"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Scripts    *script.Service
	Leads      *leads.Pool
	Campaigns  *campaigns.Service
	Calls      *calls.Manager
	Pacing     *pacing.Controller
	Aggregator *aggregator.Service
	Audit      *audit.Service
	Log        *slog.Logger
}

func (h Handlers) log(c *gin.Context) *slog.Logger {
	if l := logger.FromGin(c); l != slog.Default() {
		return l
	}
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// actor identifies the operator behind a request for the audit log.
func actor(c *gin.Context) audit.Actor {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return audit.Actor{ID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// writeError maps domain errors onto status codes. Unknown errors are logged
// and reported as 500 without their text.
func (h Handlers) writeError(c *gin.Context, err error) {
	var ve *script.ValidationError
	switch {
	case errors.As(err, &ve):
		problems := make([]string, 0, len(ve.Problems))
		for _, p := range ve.Problems {
			problems = append(problems, p.String())
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid script", "problems": problems})
	case errors.Is(err, script.ErrInvalidArgument),
		errors.Is(err, campaigns.ErrInvalidArgument),
		errors.Is(err, campaigns.ErrInvalidConfig),
		errors.Is(err, leads.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidEvent),
		errors.Is(err, calls.ErrCostMismatch),
		errors.Is(err, calls.ErrMissingDisposition),
		errors.Is(err, pacing.ErrInvalidArgument),
		errors.Is(err, aggregator.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, script.ErrNotFound),
		errors.Is(err, campaigns.ErrNotFound),
		errors.Is(err, leads.ErrNotFound),
		errors.Is(err, calls.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, campaigns.ErrPreconditionFailed),
		errors.Is(err, script.ErrNotActive),
		errors.Is(err, leads.ErrInProgress),
		errors.Is(err, leads.ErrDoNotCall),
		errors.Is(err, calls.ErrSessionClosed),
		errors.Is(err, aggregator.ErrNotFinalized),
		errors.Is(err, aggregator.ErrAlreadyVoided):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, pacing.ErrExecutorFailure):
		abort(c, http.StatusBadGateway, err.Error())
	default:
		h.log(c).Error("request failed", "path", c.FullPath(), "err", err)
		abort(c, http.StatusInternalServerError, "internal error")
	}
}

// page reads limit/offset query parameters.
func page(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			abort(c, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			abort(c, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
