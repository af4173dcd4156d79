package service

import (
	"context"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStore is the durable record store. Implemented by
// repository.AuctionRepository.
type AuctionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	GetByAsset(ctx context.Context, assetID string, statuses ...domain.AuctionStatus) ([]*domain.Auction, error)
	ListOpen(ctx context.Context, assetID string) ([]*domain.Auction, error)
	ListDue(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Auction, error)
	ListUnconfirmedTransfers(ctx context.Context, seller string) ([]*domain.Auction, error)
	Create(ctx context.Context, a *domain.Auction) error
	CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate func(a *domain.Auction) error) (*domain.Auction, error)
}

// Publisher receives every committed auction change. Implemented by ws.Hub,
// events.RedisPublisher, events.NATSPublisher and events.Fanout.
type Publisher interface {
	Publish(ctx context.Context, evt domain.AuctionEvent) error
}

// OwnershipOracle answers whether identity currently owns assetID.
// Implemented by chain.ERC721Oracle.
type OwnershipOracle interface {
	IsOwner(ctx context.Context, assetID, identity string) (bool, error)
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

// TrustSellerOracle accepts every ownership claim. Used when no chain RPC is
// configured.
type TrustSellerOracle struct{}

// IsOwner always reports true.
func (TrustSellerOracle) IsOwner(context.Context, string, string) (bool, error) { return true, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.AuctionEvent) error { return nil }
