package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors, compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Auction record errors
var (
	// ErrAuctionNotFound is returned when no auction matches the given id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrActiveAuctionExists is returned on create when the asset already has
	// an auction in StatusActive or StatusEnded.
	ErrActiveAuctionExists = errors.New("asset already has an open auction")

	// ErrVersionConflict is returned by compare-and-update when the stored
	// version no longer matches the caller's snapshot.
	ErrVersionConflict = errors.New("auction was modified concurrently")

	// ErrInvalidTransition is returned when a mutation would move an auction
	// backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid auction status transition")

	// ErrInvariantViolation is returned when a mutation would leave the record
	// in a state that breaks a bookkeeping invariant.
	ErrInvariantViolation = errors.New("auction invariant violated")
)

// Create / input validation errors
var (
	ErrInvalidAssetID   = errors.New("asset id is required")
	ErrInvalidBasePrice = errors.New("base price must be a positive decimal with at most 18 decimal places")
	ErrInvalidDuration  = errors.New("auction duration is out of range")
	ErrInvalidIdentity  = errors.New("identity must be a 0x-prefixed 20-byte hex address")
	ErrInvalidAmount    = errors.New("bid amount must be a positive decimal with at most 18 decimal places")
	ErrInvalidEvidence  = errors.New("settlement evidence must carry a 32-byte transaction hash")
)

// Bid acceptance errors, evaluated in this order by ValidateBid.
var (
	// ErrAuctionNotActive is returned when the auction is not in StatusActive.
	ErrAuctionNotActive = errors.New("auction is not active")

	// ErrAuctionWindowClosed is returned when the bid arrives at or after the
	// auction end time, even if the sweep has not yet ended the auction.
	ErrAuctionWindowClosed = errors.New("auction bidding window has closed")

	// ErrSelfBid is returned when the seller bids on their own auction.
	ErrSelfBid = errors.New("seller cannot bid on their own auction")

	// ErrBidTooLow is returned when the amount does not exceed the current bid.
	ErrBidTooLow = errors.New("bid must be higher than the current bid")
)

// Settlement errors
var (
	// ErrNotHighestBidder is returned when a settlement claim or confirmation
	// comes from anyone other than the highest bidder.
	ErrNotHighestBidder = errors.New("caller is not the highest bidder")

	// ErrAlreadySettled is returned when settlement evidence arrives for an
	// auction already settled with different evidence.
	ErrAlreadySettled = errors.New("auction is already settled")

	// ErrInvalidState is returned when an operation is not valid for the
	// auction's current status.
	ErrInvalidState = errors.New("operation not valid in the current auction state")

	// ErrWindowExpired is returned when settlement evidence arrives after the
	// auction was expired by the grace-period sweep.
	ErrWindowExpired = errors.New("settlement window has expired")

	// ErrNotSeller is returned when a seller-only operation is invoked by
	// someone else.
	ErrNotSeller = errors.New("caller is not the seller")

	// ErrAuctionStillRunning is returned when the seller tries to end an
	// auction before its end time.
	ErrAuctionStillRunning = errors.New("auction end time has not passed yet")

	// ErrNotAssetOwner is returned when the ownership oracle reports that the
	// seller does not hold the asset.
	ErrNotAssetOwner = errors.New("seller does not own the asset")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated caller lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a session token has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// Infrastructure errors
var (
	// ErrStoreUnavailable wraps timeouts and connection failures from the
	// auction store. Callers may retry with backoff.
	ErrStoreUnavailable = errors.New("auction store unavailable")

	// ErrOracleUnavailable wraps failures of the asset-ownership oracle.
	ErrOracleUnavailable = errors.New("ownership oracle unavailable")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true when err (or any error in its chain) is a domain
// "not found" error.
func IsNotFound(err error) bool {
	return isAny(err, ErrAuctionNotFound)
}

// IsValidation returns true for malformed input. These are never retried.
func IsValidation(err error) bool {
	return isAny(err,
		ErrInvalidAssetID,
		ErrInvalidBasePrice,
		ErrInvalidDuration,
		ErrInvalidIdentity,
		ErrInvalidAmount,
		ErrInvalidEvidence,
		ErrBidTooLow,
	)
}

// IsConflict returns true for state conflicts. The caller decides whether to
// re-read and retry.
func IsConflict(err error) bool {
	return isAny(err,
		ErrActiveAuctionExists,
		ErrVersionConflict,
		ErrInvalidTransition,
		ErrAuctionNotActive,
		ErrAuctionWindowClosed,
		ErrAuctionStillRunning,
		ErrAlreadySettled,
		ErrInvalidState,
		ErrWindowExpired,
	)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return isAny(err,
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrNotSeller,
		ErrNotHighestBidder,
		ErrNotAssetOwner,
		ErrSelfBid,
	)
}

// IsTransient returns true for infrastructure failures that are safe to retry
// with backoff.
func IsTransient(err error) bool {
	return isAny(err, ErrStoreUnavailable, ErrOracleUnavailable)
}
