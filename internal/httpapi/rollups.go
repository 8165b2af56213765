package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h Handlers) RollupCosts(c *gin.Context) {
	c.JSON(http.StatusOK, h.Aggregator.Costs())
}

func (h Handlers) RollupDispositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dispositions": h.Aggregator.Dispositions()})
}

func (h Handlers) RollupHourly(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hours": h.Aggregator.Hourly()})
}

func (h Handlers) RollupScripts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scripts": h.Aggregator.Scripts()})
}

// RebuildRollups reconciles the ledger with the call log on demand.
func (h Handlers) RebuildRollups(c *gin.Context) {
	rep, err := h.Aggregator.Rebuild(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log(c).Info("rollup rebuild requested", "actor_id", actor(c).ID, "repaired", rep.Repaired, "drifted", rep.Drifted)
	c.JSON(http.StatusOK, rep)
}
