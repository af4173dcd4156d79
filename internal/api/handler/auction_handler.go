package handler

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionHandler serves listing, bidding and settlement endpoints.
type AuctionHandler struct {
	auctionSvc *service.AuctionService
	now        func() time.Time
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctionSvc *service.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctionSvc: auctionSvc, now: time.Now}
}

// auctionView adds the remaining bidding time to the stored record.
type auctionView struct {
	*domain.Auction
	TimeLeftSeconds int64 `json:"time_left_seconds"`
}

func (h *AuctionHandler) view(a *domain.Auction) auctionView {
	return auctionView{Auction: a, TimeLeftSeconds: int64(a.TimeLeft(h.now()).Seconds())}
}

func (h *AuctionHandler) views(as []*domain.Auction) []auctionView {
	out := make([]auctionView, 0, len(as))
	for _, a := range as {
		out = append(out, h.view(a))
	}
	return out
}

// auctionID parses the :id path parameter, writing a 400 on failure.
func auctionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AUCTION_ID", "invalid auction id")
		return uuid.Nil, false
	}
	return id, true
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// List godoc
// GET /api/auctions?asset_id=
func (h *AuctionHandler) List(c *gin.Context) {
	auctions, err := h.auctionSvc.ListOpen(c.Request.Context(), c.Query("asset_id"))
	if err != nil {
		respondDomainError(c, err, "could not list auctions")
		return
	}
	respondList(c, h.views(auctions), len(auctions))
}

// Get godoc
// GET /api/auctions/:id
func (h *AuctionHandler) Get(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := h.auctionSvc.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, h.view(a))
}

// PendingTransfers godoc
// GET /api/sellers/:seller/pending-transfers
func (h *AuctionHandler) PendingTransfers(c *gin.Context) {
	auctions, err := h.auctionSvc.ListUnconfirmedTransfers(c.Request.Context(), c.Param("seller"))
	if err != nil {
		respondDomainError(c, err, "could not list pending transfers")
		return
	}
	respondList(c, h.views(auctions), len(auctions))
}

// ──────────────────────────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────────────────────────

// Create godoc
// POST /api/auctions [JWT]
// Body: {"asset_id":"0xabc...:42","base_price":"0.5","duration_seconds":3600}
func (h *AuctionHandler) Create(c *gin.Context) {
	var body struct {
		AssetID         string `json:"asset_id"         binding:"required"`
		BasePrice       string `json:"base_price"       binding:"required"`
		DurationSeconds int64  `json:"duration_seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	price, err := decimal.NewFromString(body.BasePrice)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BASE_PRICE", domain.ErrInvalidBasePrice.Error())
		return
	}
	// Out-of-range seconds would wrap around when scaled to a Duration.
	if body.DurationSeconds <= 0 || body.DurationSeconds > math.MaxInt64/int64(time.Second) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DURATION", domain.ErrInvalidDuration.Error())
		return
	}

	a, err := h.auctionSvc.Create(c.Request.Context(), service.CreateAuctionRequest{
		AssetID:   body.AssetID,
		Seller:    middleware.GetIdentity(c),
		BasePrice: price,
		Duration:  time.Duration(body.DurationSeconds) * time.Second,
	})
	if err != nil {
		respondDomainError(c, err, "could not create auction")
		return
	}
	respondSuccess(c, http.StatusCreated, h.view(a))
}

// PlaceBid godoc
// POST /api/auctions/:id/bids [JWT]
// Body: {"amount":"0.75","expected_version":3}
func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var body struct {
		Amount          string `json:"amount" binding:"required"`
		ExpectedVersion *int64 `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", domain.ErrInvalidAmount.Error())
		return
	}

	a, err := h.auctionSvc.PlaceBid(c.Request.Context(), id, middleware.GetIdentity(c), amount, body.ExpectedVersion)
	if err != nil {
		respondDomainError(c, err, "could not place bid")
		return
	}
	respondSuccess(c, http.StatusCreated, h.view(a))
}

// End godoc
// POST /api/auctions/:id/end [JWT, seller]
func (h *AuctionHandler) End(c *gin.Context) {
	h.simple(c, h.auctionSvc.EndBySeller, "could not end auction")
}

// Expire godoc
// POST /api/auctions/:id/expire [JWT, seller]
// Only an ended auction with no settlement claim can be expired here; once the
// winner has claimed, 409 ERR_INVALID_STATE and the grace period decides.
// Repeating the call on an already expired auction returns it with 200.
func (h *AuctionHandler) Expire(c *gin.Context) {
	h.simple(c, h.auctionSvc.ExpireBySeller, "could not expire auction")
}

// Claim godoc
// POST /api/auctions/:id/claim [JWT, highest bidder]
func (h *AuctionHandler) Claim(c *gin.Context) {
	h.simple(c, h.auctionSvc.ClaimSettlement, "could not claim settlement")
}

// Transfer godoc
// POST /api/auctions/:id/transfer [JWT, seller]
func (h *AuctionHandler) Transfer(c *gin.Context) {
	h.simple(c, h.auctionSvc.ConfirmAssetTransfer, "could not confirm transfer")
}

// Settle godoc
// POST /api/auctions/:id/settlement [JWT, highest bidder]
// Body: {"tx_hash":"0x…","payer":"0x…"}
func (h *AuctionHandler) Settle(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var body struct {
		TxHash string `json:"tx_hash" binding:"required"`
		Payer  string `json:"payer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	caller := middleware.GetIdentity(c)
	ev := domain.SettlementEvidence{TxHash: body.TxHash, Payer: body.Payer}
	if ev.Payer == "" {
		ev.Payer = caller
	}

	a, err := h.auctionSvc.ConfirmSettlement(c.Request.Context(), id, caller, ev)
	if err != nil {
		respondDomainError(c, err, "could not confirm settlement")
		return
	}
	respondSuccess(c, http.StatusOK, h.view(a))
}

// simple runs an (id, caller) operation with the shared error handling.
func (h *AuctionHandler) simple(
	c *gin.Context,
	op func(ctx context.Context, id uuid.UUID, caller string) (*domain.Auction, error),
	fallback string,
) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := op(c.Request.Context(), id, middleware.GetIdentity(c))
	if err != nil {
		respondDomainError(c, err, fallback)
		return
	}
	respondSuccess(c, http.StatusOK, h.view(a))
}
