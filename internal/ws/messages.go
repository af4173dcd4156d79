// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs sent to connected clients.
package ws

import (
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeWelcome      MsgType = "welcome"
	MsgTypeAuctionEvent MsgType = "auction_event"
	MsgTypeError        MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// WelcomeMessage: first frame on every connection.
// ──────────────────────────────────────────────────────────────────────────────

// WelcomeMessage echoes the identity and filters the hub applied.
type WelcomeMessage struct {
	Type      MsgType    `json:"type"`
	Identity  string     `json:"identity,omitempty"` // empty = anonymous
	AuctionID *uuid.UUID `json:"auction_id,omitempty"`
	AssetID   string     `json:"asset_id,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// EventMessage: one committed auction change.
// ──────────────────────────────────────────────────────────────────────────────

// EventMessage wraps an AuctionEvent. Mine is true when the receiving client
// is the actor or the current highest bidder, so a UI can flag "you were
// outbid" without a second request.
type EventMessage struct {
	Type  MsgType             `json:"type"`
	Event domain.AuctionEvent `json:"event"`
	Mine  bool                `json:"mine,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
