package handler

import (
	"context"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
)

// AdminStore is the read side the backoffice needs. Implemented by
// repository.AuctionRepository.
type AdminStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	ListByStatus(ctx context.Context, status domain.AuctionStatus, limit, offset int) ([]*domain.Auction, int, error)
	ListReconciliation(ctx context.Context, limit, offset int) ([]*domain.Auction, int, error)
	CountByStatus(ctx context.Context) (map[domain.AuctionStatus]int, error)
}

// SweepRunner runs an on-demand sweep. Implemented by scheduler.Scheduler.
type SweepRunner interface {
	RunOnce(ctx context.Context) (service.SweepReport, error)
	LastReport() (service.SweepReport, bool)
}

// ConnCounter reports live WebSocket clients. Implemented by ws.Hub.
type ConnCounter interface {
	ConnectedCount() int
}
