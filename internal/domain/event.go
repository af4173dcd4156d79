package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies what happened to an auction so subscribers can switch on it.
type EventType string

const (
	EventAuctionCreated    EventType = "auction.created"
	EventBidPlaced         EventType = "bid.placed"
	EventAuctionEnded      EventType = "auction.ended"
	EventAuctionExpired    EventType = "auction.expired"
	EventSettlementClaimed EventType = "settlement.claimed"
	EventAuctionSettled    EventType = "auction.settled"
	EventSettlementLate    EventType = "settlement.rejected_late"
	EventTransferConfirmed EventType = "transfer.confirmed"
)

// AuctionEvent is published after a committed change. Evidence is set on
// settlement events, including late evidence kept for reconciliation.
type AuctionEvent struct {
	ID         uuid.UUID           `json:"id"`
	Type       EventType           `json:"type"`
	AuctionID  uuid.UUID           `json:"auction_id"`
	AssetID    string              `json:"asset_id"`
	Status     AuctionStatus       `json:"status"`
	Version    int64               `json:"version"`
	Actor      string              `json:"actor,omitempty"`
	CurrentBid decimal.Decimal     `json:"current_bid"`
	Bidder     *string             `json:"highest_bidder,omitempty"`
	Evidence   *SettlementEvidence `json:"evidence,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// NewAuctionEvent snapshots a into an event of type t.
func NewAuctionEvent(t EventType, a *Auction, actor string, now time.Time) AuctionEvent {
	return AuctionEvent{
		ID:         uuid.New(),
		Type:       t,
		AuctionID:  a.ID,
		AssetID:    a.AssetID,
		Status:     a.Status,
		Version:    a.Version,
		Actor:      actor,
		CurrentBid: a.CurrentBid,
		Bidder:     cloneString(a.HighestBidder),
		Evidence:   a.Evidence,
		OccurredAt: now.UTC(),
	}
}

// TransitionEvent maps a lifecycle status to the event announcing it.
func TransitionEvent(to AuctionStatus) EventType {
	switch to {
	case StatusEnded:
		return EventAuctionEnded
	case StatusSettled:
		return EventAuctionSettled
	default:
		return EventAuctionExpired
	}
}
