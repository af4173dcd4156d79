package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// openAssetIndex is the partial unique index that enforces one open auction per asset.
const openAssetIndex = "auctions_one_open_per_asset"

const auctionColumns = `
	id, asset_id, seller, base_price, current_bid, highest_bidder, bid_count, status,
	start_time, end_time, ended_at, settled_at, expired_at,
	claimed_by, claimed_at, evidence_tx_hash, evidence_payer,
	transfer_confirmed, transfer_confirmed_at, version, created_at, updated_at`

// AuctionRepository is the durable auction record store. All mutations of an
// existing record go through CompareAndUpdate.
type AuctionRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuctionRepository creates an AuctionRepository. Every call is bounded by
// timeout; zero disables the bound.
func NewAuctionRepository(db *sqlx.DB, timeout time.Duration) *AuctionRepository {
	return &AuctionRepository{db: db, timeout: timeout}
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get fetches a single auction with its bid ledger.
func (r *AuctionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	a, err := r.get(ctx, r.db, id)
	if err != nil {
		return nil, r.wrap("auction_repo.Get", err)
	}
	return a, nil
}

// GetByAsset returns every auction for assetID whose status is in statuses
// (all statuses when none are given), newest first.
func (r *AuctionRepository) GetByAsset(ctx context.Context, assetID string, statuses ...domain.AuctionStatus) ([]*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE asset_id = ?`
	args := []any{assetID}
	if len(statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at DESC`

	out, err := r.selectIn(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("auction_repo.GetByAsset", err)
	}
	return out, nil
}

// ListOpen returns active and ended auctions ordered by end time, optionally
// restricted to one asset.
func (r *AuctionRepository) ListOpen(ctx context.Context, assetID string) ([]*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status IN (?)`
	args := []any{statusStrings(domain.OpenStatuses)}
	if assetID != "" {
		query += ` AND asset_id = ?`
		args = append(args, assetID)
	}
	query += ` ORDER BY end_time ASC`

	out, err := r.selectIn(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("auction_repo.ListOpen", err)
	}
	return out, nil
}

// ListDue returns auctions with a time-based transition due at now: active
// auctions past their end time and ended auctions whose grace has elapsed.
func (r *AuctionRepository) ListDue(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE (status = 'active' AND end_time <= ?)
		   OR (status = 'ended' AND ended_at <= ?)
		ORDER BY end_time ASC`
	out, err := r.selectIn(ctx, query, toMillis(now), toMillis(now.Add(-grace)))
	if err != nil {
		return nil, r.wrap("auction_repo.ListDue", err)
	}
	return out, nil
}

// ListUnconfirmedTransfers returns the seller's settled auctions whose asset
// transfer has not been confirmed yet.
func (r *AuctionRepository) ListUnconfirmedTransfers(ctx context.Context, seller string) ([]*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE status = 'settled' AND transfer_confirmed = ? AND seller = ?
		ORDER BY settled_at ASC`
	out, err := r.selectIn(ctx, query, false, seller)
	if err != nil {
		return nil, r.wrap("auction_repo.ListUnconfirmedTransfers", err)
	}
	return out, nil
}

// ListByStatus returns a page of auctions filtered by status ("" = all) and
// the total matching count.
func (r *AuctionRepository) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit, offset int) ([]*domain.Auction, int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	where, args := "", []any{}
	if status != "" {
		where, args = ` WHERE status = ?`, append(args, string(status))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM auctions`+where), args...); err != nil {
		return nil, 0, r.wrap("auction_repo.ListByStatus count", err)
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	out, err := r.selectIn(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, r.wrap("auction_repo.ListByStatus select", err)
	}
	return out, total, nil
}

// ListReconciliation returns a page of expired auctions that carried a
// settlement claim, and the total matching count. Payment may have landed on
// the ledger after expiry, so operators review them.
func (r *AuctionRepository) ListReconciliation(ctx context.Context, limit, offset int) ([]*domain.Auction, int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	const where = ` WHERE status = 'expired' AND claimed_by IS NOT NULL`
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM auctions`+where); err != nil {
		return nil, 0, r.wrap("auction_repo.ListReconciliation count", err)
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions` + where + ` ORDER BY expired_at DESC LIMIT ? OFFSET ?`
	out, err := r.selectIn(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, r.wrap("auction_repo.ListReconciliation select", err)
	}
	return out, total, nil
}

// CountByStatus returns the number of auctions per status.
func (r *AuctionRepository) CountByStatus(ctx context.Context) (map[domain.AuctionStatus]int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM auctions GROUP BY status`); err != nil {
		return nil, r.wrap("auction_repo.CountByStatus", err)
	}
	out := map[domain.AuctionStatus]int{
		domain.StatusActive:  0,
		domain.StatusEnded:   0,
		domain.StatusSettled: 0,
		domain.StatusExpired: 0,
	}
	for _, row := range rows {
		out[domain.AuctionStatus(row.Status)] = row.Count
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────────────────────────

// Create inserts a new auction at version 0. Returns ErrActiveAuctionExists if
// the asset already has an active or ended auction.
func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	if err := a.CheckInvariants(); err != nil {
		return fmt.Errorf("auction_repo.Create: %w", err)
	}
	if a.Status != domain.StatusActive || a.HasBids() {
		return fmt.Errorf("auction_repo.Create: %w: new auctions start active with an empty ledger", domain.ErrInvariantViolation)
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	row := toRow(a)
	row.Version = 0
	query := `INSERT INTO auctions (` + auctionColumns + `) VALUES (
		:id, :asset_id, :seller, :base_price, :current_bid, :highest_bidder, :bid_count, :status,
		:start_time, :end_time, :ended_at, :settled_at, :expired_at,
		:claimed_by, :claimed_at, :evidence_tx_hash, :evidence_payer,
		:transfer_confirmed, :transfer_confirmed_at, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if isOpenAssetViolation(err) {
			return fmt.Errorf("auction_repo.Create: %w", domain.ErrActiveAuctionExists)
		}
		return r.wrap("auction_repo.Create", err)
	}
	a.Version = 0
	return nil
}

// CompareAndUpdate loads the auction, checks that its version still equals
// expectedVersion, applies mutate to a private copy and persists the result
// with version+1. Errors from mutate are returned unchanged and nothing is
// written. A concurrent writer that committed first yields ErrVersionConflict.
func (r *AuctionRepository) CompareAndUpdate(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	mutate func(a *domain.Auction) error,
) (*domain.Auction, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	current, err := r.get(ctx, r.db, id)
	if err != nil {
		return nil, r.wrap("auction_repo.CompareAndUpdate load", err)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	next := current.Clone()
	if err = mutate(next); err != nil {
		return nil, err
	}
	if err = domain.ValidateUpdate(current, next); err != nil {
		return nil, fmt.Errorf("auction_repo.CompareAndUpdate: %w", err)
	}

	tx, txErr := r.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return nil, r.wrap("auction_repo.CompareAndUpdate begin", txErr)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	row := toRow(next)
	res, txErr := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE auctions SET
			current_bid = ?, highest_bidder = ?, bid_count = ?, status = ?,
			ended_at = ?, settled_at = ?, expired_at = ?,
			claimed_by = ?, claimed_at = ?, evidence_tx_hash = ?, evidence_payer = ?,
			transfer_confirmed = ?, transfer_confirmed_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		row.CurrentBid, row.HighestBidder, row.BidCount, row.Status,
		row.EndedAt, row.SettledAt, row.ExpiredAt,
		row.ClaimedBy, row.ClaimedAt, row.EvidenceTxHash, row.EvidencePayer,
		row.TransferConfirmed, row.TransferConfirmedAt,
		row.UpdatedAt,
		id, expectedVersion,
	)
	if txErr != nil {
		return nil, r.wrap("auction_repo.CompareAndUpdate update", txErr)
	}
	n, txErr := res.RowsAffected()
	if txErr != nil {
		return nil, r.wrap("auction_repo.CompareAndUpdate rows", txErr)
	}
	if n == 0 {
		txErr = domain.ErrVersionConflict
		return nil, txErr
	}

	for _, b := range next.Bids[len(current.Bids):] {
		if _, txErr = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO bids (auction_id, seq, bidder, amount, placed_at) VALUES (?, ?, ?, ?, ?)`),
			id, b.Seq, b.Bidder, b.Amount, toMillis(b.PlacedAt)); txErr != nil {
			return nil, r.wrap("auction_repo.CompareAndUpdate insert bid", txErr)
		}
	}

	if txErr = tx.Commit(); txErr != nil {
		return nil, r.wrap("auction_repo.CompareAndUpdate commit", txErr)
	}
	next.Version = expectedVersion + 1
	return next, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────────────────────────────────

func (r *AuctionRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// get reads the auction row and the ledger prefix it references. bid_count is
// written in the same statement as the version bump, so bids beyond it belong
// to a later version and are ignored.
func (r *AuctionRepository) get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Auction, error) {
	var row auctionRow
	err := sqlx.GetContext(ctx, q, &row, r.db.Rebind(`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}
	a := row.toDomain()
	if row.BidCount > 0 {
		var bids []bidRow
		if err = sqlx.SelectContext(ctx, q, &bids, r.db.Rebind(
			`SELECT auction_id, seq, bidder, amount, placed_at FROM bids
			 WHERE auction_id = ? AND seq <= ? ORDER BY seq ASC`), id, row.BidCount); err != nil {
			return nil, err
		}
		for _, b := range bids {
			a.Bids = append(a.Bids, b.toDomain())
		}
	}
	return a, nil
}

// selectIn runs a list query (expanding any IN (?) slice arguments) and
// attaches each auction's ledger with a single bulk bid query.
func (r *AuctionRepository) selectIn(ctx context.Context, query string, args ...any) ([]*domain.Auction, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []auctionRow
	if err = r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	out := make([]*domain.Auction, 0, len(rows))
	byID := make(map[uuid.UUID]*domain.Auction, len(rows))
	limits := make(map[uuid.UUID]int, len(rows))
	var withBids []uuid.UUID
	for _, row := range rows {
		a := row.toDomain()
		out = append(out, a)
		byID[a.ID] = a
		limits[a.ID] = row.BidCount
		if row.BidCount > 0 {
			withBids = append(withBids, a.ID)
		}
	}
	if len(withBids) == 0 {
		return out, nil
	}

	bq, bargs, err := sqlx.In(
		`SELECT auction_id, seq, bidder, amount, placed_at FROM bids
		 WHERE auction_id IN (?) ORDER BY auction_id, seq ASC`, withBids)
	if err != nil {
		return nil, err
	}
	var bids []bidRow
	if err = r.db.SelectContext(ctx, &bids, r.db.Rebind(bq), bargs...); err != nil {
		return nil, err
	}
	for _, b := range bids {
		if b.Seq <= limits[b.AuctionID] {
			byID[b.AuctionID].Bids = append(byID[b.AuctionID].Bids, b.toDomain())
		}
	}
	return out, nil
}

// wrap annotates err with op and tags timeouts and connection failures as
// ErrStoreUnavailable while keeping the cause in the chain.
func (r *AuctionRepository) wrap(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDomainError(err error) bool {
	return domain.IsNotFound(err) || errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrActiveAuctionExists)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08 = connection exception, 57P0x = admin shutdown / cannot connect now, 53 = insufficient resources
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P") || strings.HasPrefix(code, "53")
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "interrupted")
}

func isOpenAssetViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == openAssetIndex
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed: auctions.asset_id")
}

func statusStrings(statuses []domain.AuctionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Row mapping
// ──────────────────────────────────────────────────────────────────────────────

type auctionRow struct {
	ID                  uuid.UUID       `db:"id"`
	AssetID             string          `db:"asset_id"`
	Seller              string          `db:"seller"`
	BasePrice           decimal.Decimal `db:"base_price"`
	CurrentBid          decimal.Decimal `db:"current_bid"`
	HighestBidder       sql.NullString  `db:"highest_bidder"`
	BidCount            int             `db:"bid_count"`
	Status              string          `db:"status"`
	StartTime           int64           `db:"start_time"`
	EndTime             int64           `db:"end_time"`
	EndedAt             sql.NullInt64   `db:"ended_at"`
	SettledAt           sql.NullInt64   `db:"settled_at"`
	ExpiredAt           sql.NullInt64   `db:"expired_at"`
	ClaimedBy           sql.NullString  `db:"claimed_by"`
	ClaimedAt           sql.NullInt64   `db:"claimed_at"`
	EvidenceTxHash      sql.NullString  `db:"evidence_tx_hash"`
	EvidencePayer       sql.NullString  `db:"evidence_payer"`
	TransferConfirmed   bool            `db:"transfer_confirmed"`
	TransferConfirmedAt sql.NullInt64   `db:"transfer_confirmed_at"`
	Version             int64           `db:"version"`
	CreatedAt           int64           `db:"created_at"`
	UpdatedAt           int64           `db:"updated_at"`
}

type bidRow struct {
	AuctionID uuid.UUID       `db:"auction_id"`
	Seq       int             `db:"seq"`
	Bidder    string          `db:"bidder"`
	Amount    decimal.Decimal `db:"amount"`
	PlacedAt  int64           `db:"placed_at"`
}

func toRow(a *domain.Auction) auctionRow {
	row := auctionRow{
		ID:                  a.ID,
		AssetID:             a.AssetID,
		Seller:              a.Seller,
		BasePrice:           a.BasePrice,
		CurrentBid:          a.CurrentBid,
		HighestBidder:       nullString(a.HighestBidder),
		BidCount:            len(a.Bids),
		Status:              string(a.Status),
		StartTime:           toMillis(a.StartTime),
		EndTime:             toMillis(a.EndTime),
		EndedAt:             nullMillis(a.EndedAt),
		SettledAt:           nullMillis(a.SettledAt),
		ExpiredAt:           nullMillis(a.ExpiredAt),
		ClaimedBy:           nullString(a.SettlementClaimedBy),
		ClaimedAt:           nullMillis(a.SettlementClaimedAt),
		TransferConfirmed:   a.AssetTransferConfirmed,
		TransferConfirmedAt: nullMillis(a.TransferConfirmedAt),
		Version:             a.Version,
		CreatedAt:           toMillis(a.CreatedAt),
		UpdatedAt:           toMillis(a.UpdatedAt),
	}
	if a.Evidence != nil {
		row.EvidenceTxHash = sql.NullString{String: a.Evidence.TxHash, Valid: true}
		row.EvidencePayer = sql.NullString{String: a.Evidence.Payer, Valid: a.Evidence.Payer != ""}
	}
	return row
}

func (row auctionRow) toDomain() *domain.Auction {
	a := &domain.Auction{
		ID:                     row.ID,
		AssetID:                row.AssetID,
		Seller:                 row.Seller,
		BasePrice:              row.BasePrice,
		CurrentBid:             row.CurrentBid,
		HighestBidder:          fromNullString(row.HighestBidder),
		Status:                 domain.AuctionStatus(row.Status),
		StartTime:              fromMillis(row.StartTime),
		EndTime:                fromMillis(row.EndTime),
		EndedAt:                fromNullMillis(row.EndedAt),
		SettledAt:              fromNullMillis(row.SettledAt),
		ExpiredAt:              fromNullMillis(row.ExpiredAt),
		Bids:                   []domain.Bid{},
		SettlementClaimedBy:    fromNullString(row.ClaimedBy),
		SettlementClaimedAt:    fromNullMillis(row.ClaimedAt),
		AssetTransferConfirmed: row.TransferConfirmed,
		TransferConfirmedAt:    fromNullMillis(row.TransferConfirmedAt),
		Version:                row.Version,
		CreatedAt:              fromMillis(row.CreatedAt),
		UpdatedAt:              fromMillis(row.UpdatedAt),
	}
	if row.EvidenceTxHash.Valid {
		a.Evidence = &domain.SettlementEvidence{TxHash: row.EvidenceTxHash.String, Payer: row.EvidencePayer.String}
	}
	return a
}

func (b bidRow) toDomain() domain.Bid {
	return domain.Bid{Seq: b.Seq, Bidder: b.Bidder, Amount: b.Amount, PlacedAt: fromMillis(b.PlacedAt)}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
