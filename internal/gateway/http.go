package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthResponse is the /health payload. Details carries the sampler's
// received/sent/dropped counters and is additive (SPEC_FULL.md §3); no
// per-stream lag is reported. The named fields are exactly spec.md §6's
// {status, connections, timestamp}.
type healthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Timestamp   string         `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

// Health serves GET /health.
func (g *Gateway) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: g.reg.Count(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Details:     g.sampler.Stats(),
	})
}

type clearCacheRequest struct {
	Reason string `json:"reason"`
	Date   string `json:"date"`
}

type clearCacheResponse struct {
	Success       bool   `json:"success"`
	CachesCleared int    `json:"caches_cleared"`
	Reason        string `json:"reason,omitempty"`
	Date          string `json:"date,omitempty"`
}

// ClearCache serves POST /clear_cache.
func (g *Gateway) ClearCache(c *gin.Context) {
	var req clearCacheRequest
	_ = c.ShouldBindJSON(&req)

	n := g.engine.ClearCache()
	c.JSON(http.StatusOK, clearCacheResponse{
		Success:       true,
		CachesCleared: n,
		Reason:        req.Reason,
		Date:          req.Date,
	})
}
