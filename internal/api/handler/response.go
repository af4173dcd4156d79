package handler

import (
	"errors"
	"net/http"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
		},
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Domain error → HTTP mapping
// ──────────────────────────────────────────────────────────────────────────────

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order with errors.Is; the first match wins.
var errorTable = []errorMapping{
	{domain.ErrAuctionNotFound, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND"},

	{domain.ErrInvalidAssetID, http.StatusBadRequest, "ERR_INVALID_ASSET_ID"},
	{domain.ErrInvalidBasePrice, http.StatusBadRequest, "ERR_INVALID_BASE_PRICE"},
	{domain.ErrInvalidDuration, http.StatusBadRequest, "ERR_INVALID_DURATION"},
	{domain.ErrInvalidIdentity, http.StatusBadRequest, "ERR_INVALID_IDENTITY"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
	{domain.ErrInvalidEvidence, http.StatusBadRequest, "ERR_INVALID_EVIDENCE"},
	{domain.ErrBidTooLow, http.StatusBadRequest, "ERR_BID_TOO_LOW"},

	{domain.ErrUnauthorized, http.StatusUnauthorized, "ERR_UNAUTHORIZED"},
	{domain.ErrTokenExpired, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED"},
	{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_TOKEN_INVALID"},
	{domain.ErrForbidden, http.StatusForbidden, "ERR_FORBIDDEN"},
	{domain.ErrNotSeller, http.StatusForbidden, "ERR_NOT_SELLER"},
	{domain.ErrNotHighestBidder, http.StatusForbidden, "ERR_NOT_HIGHEST_BIDDER"},
	{domain.ErrNotAssetOwner, http.StatusForbidden, "ERR_NOT_ASSET_OWNER"},
	{domain.ErrSelfBid, http.StatusForbidden, "ERR_SELF_BID"},

	{domain.ErrWindowExpired, http.StatusGone, "ERR_WINDOW_EXPIRED"},
	{domain.ErrActiveAuctionExists, http.StatusConflict, "ERR_ACTIVE_AUCTION_EXISTS"},
	{domain.ErrVersionConflict, http.StatusConflict, "ERR_VERSION_CONFLICT"},
	{domain.ErrAuctionNotActive, http.StatusConflict, "ERR_AUCTION_NOT_ACTIVE"},
	{domain.ErrAuctionWindowClosed, http.StatusConflict, "ERR_AUCTION_WINDOW_CLOSED"},
	{domain.ErrAuctionStillRunning, http.StatusConflict, "ERR_AUCTION_STILL_RUNNING"},
	{domain.ErrAlreadySettled, http.StatusConflict, "ERR_ALREADY_SETTLED"},
	{domain.ErrInvalidState, http.StatusConflict, "ERR_INVALID_STATE"},
	{domain.ErrInvalidTransition, http.StatusConflict, "ERR_INVALID_TRANSITION"},

	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "ERR_STORE_UNAVAILABLE"},
	{domain.ErrOracleUnavailable, http.StatusServiceUnavailable, "ERR_ORACLE_UNAVAILABLE"},
}

// respondDomainError maps err onto the error envelope. Unknown errors become
// a 500 carrying fallback, so internal details never reach the client.
func respondDomainError(c *gin.Context, err error, fallback string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
			}
			respondError(c, m.status, m.code, m.err.Error())
			return
		}
	}
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
}
