package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	store  AdminStore
	sweeps SweepRunner
	hub    ConnCounter
	grace  time.Duration
}

// NewDashboardHandler creates a DashboardHandler. hub may be nil when the
// process serves no WebSocket clients.
func NewDashboardHandler(store AdminStore, sweeps SweepRunner, hub ConnCounter, grace time.Duration) *DashboardHandler {
	return &DashboardHandler{store: store, sweeps: sweeps, hub: hub, grace: grace}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		respondStoreError(c, err, "could not count auctions")
		return
	}

	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	var lastSweep interface{}
	if report, ok := h.sweeps.LastReport(); ok {
		lastSweep = report
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":            time.Now().UTC(),
		"auctions_by_status":   counts,
		"grace_period_seconds": int64(h.grace.Seconds()),
		"last_sweep":           lastSweep,
		"ws_connections":       wsConnections,
	})
}
