package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"campaign-dialer/internal/script"

	"github.com/gin-gonic/gin"
)

const maxScriptBytes = 1 << 20

// readScript decodes a YAML or JSON script document from the request body.
func readScript(c *gin.Context) (script.Script, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScriptBytes+1))
	if err != nil {
		abort(c, http.StatusBadRequest, "unreadable body")
		return script.Script{}, false
	}
	if len(body) > maxScriptBytes {
		abort(c, http.StatusRequestEntityTooLarge, "script too large")
		return script.Script{}, false
	}
	s, err := script.Parse(body)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return script.Script{}, false
	}
	return s, true
}

func (h Handlers) CreateScript(c *gin.Context) {
	in, ok := readScript(c)
	if !ok {
		return
	}
	s, err := h.Scripts.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) UpdateScript(c *gin.Context) {
	in, ok := readScript(c)
	if !ok {
		return
	}
	s, err := h.Scripts.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ActivateScript(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.Scripts.Activate(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogScriptActivated(ctx, actor(c), snap.ScriptID(), snap.Version()); err != nil {
			h.log(c).Warn("audit script activation failed", "script_id", snap.ScriptID(), "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": snap.ScriptID(), "version": snap.Version(), "start": snap.Start()})
}

// GetScript returns the latest version, or the one named by ?version=.
func (h Handlers) GetScript(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, "invalid version")
			return
		}
		snap, err := h.Scripts.Resolve(ctx, id, n)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
		return
	}
	s, err := h.Scripts.Get(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ListScripts(c *gin.Context) {
	out, err := h.Scripts.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": out})
}
