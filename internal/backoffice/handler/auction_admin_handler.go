package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuctionAdminHandler serves operator views over stored auctions and the
// on-demand sweep.
type AuctionAdminHandler struct {
	store  AdminStore
	sweeps SweepRunner
	grace  time.Duration
}

// NewAuctionAdminHandler creates an AuctionAdminHandler.
func NewAuctionAdminHandler(store AdminStore, sweeps SweepRunner, grace time.Duration) *AuctionAdminHandler {
	return &AuctionAdminHandler{store: store, sweeps: sweeps, grace: grace}
}

// List godoc
// GET /admin/auctions?status=ended&page=1&limit=50
func (h *AuctionAdminHandler) List(c *gin.Context) {
	status := domain.AuctionStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "status must be one of active, ended, settled, expired")
		return
	}
	page, limit := adminPagination(c)

	auctions, total, err := h.store.ListByStatus(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondStoreError(c, err, "could not list auctions")
		return
	}
	respondList(c, auctions, total, page, limit)
}

// Detail godoc
// GET /admin/auctions/:id
// Returns the stored record as-is plus the transition a sweep would apply now.
func (h *AuctionAdminHandler) Detail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AUCTION_ID", "invalid auction id")
		return
	}
	a, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"auction":        a,
		"due_transition": a.DueTransition(time.Now().UTC(), h.grace),
	})
}

// Sweep godoc
// POST /admin/sweep [operator]
func (h *AuctionAdminHandler) Sweep(c *gin.Context) {
	report, err := h.sweeps.RunOnce(c.Request.Context())
	switch {
	case err == nil:
		respondSuccess(c, http.StatusOK, report)
	case errors.Is(err, scheduler.ErrLeaseHeld):
		respondError(c, http.StatusConflict, "ERR_SWEEP_IN_PROGRESS", err.Error())
	default:
		respondStoreError(c, err, "sweep failed")
	}
}

// Reconciliation godoc
// GET /admin/reconciliation?page=1&limit=50
// Expired auctions whose winner had claimed settlement: payment may exist on
// the ledger without a matching record here.
func (h *AuctionAdminHandler) Reconciliation(c *gin.Context) {
	page, limit := adminPagination(c)
	auctions, total, err := h.store.ListReconciliation(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		respondStoreError(c, err, "could not list reconciliation queue")
		return
	}
	respondList(c, auctions, total, page, limit)
}
