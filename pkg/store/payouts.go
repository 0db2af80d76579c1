package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var payoutColumns = []string{
	"id", "program_id", "affiliate_id", "period_start", "period_end", "total_amount", "currency", "status",
	"payment_reference", "failure_reason", "item_count", "created_at", "updated_at", "completed_at",
}

var payoutInsertColumns = append(append([]string{}, payoutColumns...), "active_key")

func scanPayout(row scanner) (*models.Payout, error) {
	var (
		p                 models.Payout
		reference, reason sql.NullString
		completedAt       sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.ProgramID, &p.AffiliateID, &p.PeriodStart, &p.PeriodEnd, &p.TotalAmount,
		&p.Currency, &p.Status, &reference, &reason, &p.ItemCount, &p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	p.PaymentReference = reference.String
	p.FailureReason = reason.String
	p.CompletedAt = timePtr(completedAt)
	p.PeriodStart = p.PeriodStart.UTC()
	p.PeriodEnd = p.PeriodEnd.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// InsertPayout stores a pending payout and claims its active key. A payout
// already active for the same (program, affiliate, period) yields ErrDuplicate.
func (s *Store) InsertPayout(ctx context.Context, p *models.Payout) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	now := Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	p.PeriodStart = Normalize(p.PeriodStart)
	p.PeriodEnd = Normalize(p.PeriodEnd)
	n, err := s.exec(ctx, s.builder().Insert("payouts").Columns(payoutInsertColumns...).
		Values(p.ID, p.ProgramID, p.AffiliateID, p.PeriodStart, p.PeriodEnd, p.TotalAmount, p.Currency, p.Status,
			nullString(p.PaymentReference), nullString(p.FailureReason), p.ItemCount, Normalize(p.CreatedAt),
			Normalize(p.UpdatedAt), nullTime(p.CompletedAt), p.ActiveKey()).
		OnConflict(entsql.ConflictColumns("active_key"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetPayout returns a payout by id
func (s *Store) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	sel := s.builder().Select(payoutColumns...).From(entsql.Table("payouts")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanPayout, models.ErrNotFound)
}

// GetActivePayout returns the pending or processing payout holding activeKey
func (s *Store) GetActivePayout(ctx context.Context, activeKey string) (*models.Payout, error) {
	sel := s.builder().Select(payoutColumns...).From(entsql.Table("payouts")).Where(entsql.EQ("active_key", activeKey))
	return queryOne(ctx, s, sel, scanPayout, models.ErrNotFound)
}

// ListPayouts returns an affiliate's payouts, newest first
func (s *Store) ListPayouts(ctx context.Context, affiliateID string) ([]*models.Payout, error) {
	sel := s.builder().Select(payoutColumns...).From(entsql.Table("payouts")).
		Where(entsql.EQ("affiliate_id", affiliateID)).OrderBy(entsql.Desc("id"))
	return queryAll(ctx, s, sel, scanPayout)
}

// PayoutUpdate carries the fields written alongside a status change
type PayoutUpdate struct {
	PaymentReference string
	FailureReason    string
	CompletedAt      *time.Time
}

// TransitionPayout moves a payout from one status to another. Terminal
// statuses release the active key. It reports false when the payout was not
// in status from.
func (s *Store) TransitionPayout(ctx context.Context, id string, from, to models.PayoutStatus, upd PayoutUpdate) (bool, error) {
	b := s.builder().Update("payouts").
		Set("status", to).
		Set("updated_at", Now()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", from)))
	if to.Terminal() {
		b.SetNull("active_key")
	}
	if upd.PaymentReference != "" {
		b.Set("payment_reference", upd.PaymentReference)
	}
	if upd.FailureReason != "" {
		b.Set("failure_reason", upd.FailureReason)
	}
	if upd.CompletedAt != nil {
		b.Set("completed_at", Normalize(*upd.CompletedAt))
	}
	n, err := s.exec(ctx, b)
	if err != nil {
		return false, fmt.Errorf("transition payout: %w", err)
	}
	return n > 0, nil
}

// SetPayoutTotals records the snapshot total and item count of a payout
func (s *Store) SetPayoutTotals(ctx context.Context, p *models.Payout) error {
	_, err := s.exec(ctx, s.builder().Update("payouts").
		Set("total_amount", p.TotalAmount).
		Set("item_count", p.ItemCount).
		Where(entsql.EQ("id", p.ID)))
	if err != nil {
		return fmt.Errorf("set payout totals: %w", err)
	}
	return nil
}

var payoutItemColumns = []string{"id", "payout_id", "commission_id", "amount", "created_at"}

func scanPayoutItem(row scanner) (*models.PayoutItem, error) {
	var it models.PayoutItem
	if err := row.Scan(&it.ID, &it.PayoutID, &it.CommissionID, &it.Amount, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.CreatedAt = it.CreatedAt.UTC()
	return &it, nil
}

// InsertPayoutItem snapshots one commission into a payout
func (s *Store) InsertPayoutItem(ctx context.Context, it *models.PayoutItem) error {
	if it.ID == "" {
		it.ID = NewID()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = Now()
	}
	n, err := s.exec(ctx, s.builder().Insert("payout_items").Columns(payoutItemColumns...).
		Values(it.ID, it.PayoutID, it.CommissionID, it.Amount, Normalize(it.CreatedAt)).
		OnConflict(entsql.ConflictColumns("payout_id", "commission_id"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert payout item: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// ListPayoutItems returns a payout's items in insertion order
func (s *Store) ListPayoutItems(ctx context.Context, payoutID string) ([]*models.PayoutItem, error) {
	sel := s.builder().Select(payoutItemColumns...).From(entsql.Table("payout_items")).
		Where(entsql.EQ("payout_id", payoutID)).OrderBy(entsql.Asc("id"))
	return queryAll(ctx, s, sel, scanPayoutItem)
}
