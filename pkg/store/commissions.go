package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var commissionColumns = []string{
	"id", "program_id", "conversion_id", "affiliate_id", "click_id", "level", "weight", "base_amount", "amount",
	"currency", "status", "held", "hold_reason", "void_reason", "payout_id", "approved_at", "paid_at", "created_at",
}

func scanCommission(row scanner) (*models.Commission, error) {
	var (
		c                                models.Commission
		holdReason, voidReason, payoutID sql.NullString
		approvedAt, paidAt               sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ProgramID, &c.ConversionID, &c.AffiliateID, &c.ClickID, &c.Level, &c.Weight,
		&c.BaseAmount, &c.Amount, &c.Currency, &c.Status, &c.Held, &holdReason, &voidReason, &payoutID,
		&approvedAt, &paidAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.HoldReason = holdReason.String
	c.VoidReason = voidReason.String
	c.PayoutID = stringPtr(payoutID)
	c.ApprovedAt = timePtr(approvedAt)
	c.PaidAt = timePtr(paidAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// InsertCommission stores a commission once per (conversion, affiliate, level, click).
// A second insert for the same key yields ErrDuplicate and leaves the first row untouched.
func (s *Store) InsertCommission(ctx context.Context, c *models.Commission) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = Now()
	}
	n, err := s.exec(ctx, s.builder().Insert("commissions").Columns(commissionColumns...).
		Values(c.ID, c.ProgramID, c.ConversionID, c.AffiliateID, c.ClickID, c.Level, c.Weight, c.BaseAmount,
			c.Amount, c.Currency, c.Status, c.Held, nullString(c.HoldReason), nullString(c.VoidReason),
			nullStringPtr(c.PayoutID), nullTime(c.ApprovedAt), nullTime(c.PaidAt), Normalize(c.CreatedAt)).
		OnConflict(entsql.ConflictColumns("conversion_id", "affiliate_id", "level", "click_id"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetCommission returns a commission by id
func (s *Store) GetCommission(ctx context.Context, id string) (*models.Commission, error) {
	sel := s.builder().Select(commissionColumns...).From(entsql.Table("commissions")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanCommission, models.ErrNotFound)
}

// GetCommissionByKey returns the commission stored for a natural key
func (s *Store) GetCommissionByKey(ctx context.Context, conversionID, affiliateID string, level int, clickID string) (*models.Commission, error) {
	sel := s.builder().Select(commissionColumns...).From(entsql.Table("commissions")).Where(entsql.And(
		entsql.EQ("conversion_id", conversionID),
		entsql.EQ("affiliate_id", affiliateID),
		entsql.EQ("level", level),
		entsql.EQ("click_id", clickID),
	))
	return queryOne(ctx, s, sel, scanCommission, models.ErrNotFound)
}

// CommissionFilter narrows ListCommissions. Zero fields are ignored.
type CommissionFilter struct {
	ProgramID    string
	AffiliateID  string
	ConversionID string
	PayoutID     string
	Statuses     []models.CommissionStatus
	Held         *bool
	Unbatched    bool
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
}

func (f CommissionFilter) predicates() []*entsql.Predicate {
	var preds []*entsql.Predicate
	if f.ProgramID != "" {
		preds = append(preds, entsql.EQ("program_id", f.ProgramID))
	}
	if f.AffiliateID != "" {
		preds = append(preds, entsql.EQ("affiliate_id", f.AffiliateID))
	}
	if f.ConversionID != "" {
		preds = append(preds, entsql.EQ("conversion_id", f.ConversionID))
	}
	if f.PayoutID != "" {
		preds = append(preds, entsql.EQ("payout_id", f.PayoutID))
	}
	if len(f.Statuses) > 0 {
		args := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			args[i] = st
		}
		preds = append(preds, entsql.In("status", args...))
	}
	if f.Held != nil {
		preds = append(preds, entsql.EQ("held", *f.Held))
	}
	if f.Unbatched {
		preds = append(preds, entsql.IsNull("payout_id"))
	}
	if f.CreatedFrom != nil {
		preds = append(preds, entsql.GTE("created_at", Normalize(*f.CreatedFrom)))
	}
	if f.CreatedTo != nil {
		preds = append(preds, entsql.LTE("created_at", Normalize(*f.CreatedTo)))
	}
	return preds
}

// ListCommissions returns commissions matching the filter, oldest first
func (s *Store) ListCommissions(ctx context.Context, f CommissionFilter) ([]*models.Commission, error) {
	sel := s.builder().Select(commissionColumns...).From(entsql.Table("commissions")).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	if preds := f.predicates(); len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	return queryAll(ctx, s, sel, scanCommission)
}

// CountQualifiedSales counts the affiliate's completed direct sales in a program:
// distinct conversions with an approved or paid level-1 commission.
func (s *Store) CountQualifiedSales(ctx context.Context, programID, affiliateID string) (int, error) {
	return s.count(ctx, s.builder().Select(entsql.Count(entsql.Distinct("conversion_id"))).From(entsql.Table("commissions")).Where(entsql.And(
		entsql.EQ("program_id", programID),
		entsql.EQ("affiliate_id", affiliateID),
		entsql.EQ("level", 1),
		entsql.In("status", models.CommissionApproved, models.CommissionPaid),
	)))
}

// ApproveCommission moves a pending commission to approved, clearing any hold.
// It reports false when the commission was not pending.
func (s *Store) ApproveCommission(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		Set("status", models.CommissionApproved).
		Set("held", false).
		SetNull("hold_reason").
		Set("approved_at", Normalize(at)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", models.CommissionPending))))
	if err != nil {
		return false, fmt.Errorf("approve commission: %w", err)
	}
	return n > 0, nil
}

// HoldCommission marks a pending commission as held
func (s *Store) HoldCommission(ctx context.Context, id, reason string) (bool, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		Set("held", true).
		Set("hold_reason", reason).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", models.CommissionPending))))
	if err != nil {
		return false, fmt.Errorf("hold commission: %w", err)
	}
	return n > 0, nil
}

// VoidCommission voids a pending or approved commission not yet attached to a payout
func (s *Store) VoidCommission(ctx context.Context, id, reason string) (bool, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		Set("status", models.CommissionVoid).
		Set("held", false).
		Set("void_reason", reason).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", models.CommissionPending, models.CommissionApproved),
			entsql.IsNull("payout_id"),
		)))
	if err != nil {
		return false, fmt.Errorf("void commission: %w", err)
	}
	return n > 0, nil
}

// AttachCommission links an approved, unheld, unbatched commission to a payout.
// It reports false when another payout got there first.
func (s *Store) AttachCommission(ctx context.Context, id, payoutID string) (bool, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		Set("payout_id", payoutID).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.IsNull("payout_id"),
			entsql.EQ("status", models.CommissionApproved),
			entsql.EQ("held", false),
		)))
	if err != nil {
		return false, fmt.Errorf("attach commission: %w", err)
	}
	return n > 0, nil
}

// MarkCommissionPaid moves an approved commission of the payout to paid.
// Already-paid rows are left alone, so the call is safe to repeat.
func (s *Store) MarkCommissionPaid(ctx context.Context, id, payoutID string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		Set("status", models.CommissionPaid).
		Set("paid_at", Normalize(at)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("payout_id", payoutID),
			entsql.EQ("status", models.CommissionApproved),
		)))
	if err != nil {
		return false, fmt.Errorf("mark commission paid: %w", err)
	}
	return n > 0, nil
}

// DetachPayoutCommissions releases the payout's unpaid commissions for a future batch
func (s *Store) DetachPayoutCommissions(ctx context.Context, payoutID string) (int64, error) {
	n, err := s.exec(ctx, s.builder().Update("commissions").
		SetNull("payout_id").
		Where(entsql.And(entsql.EQ("payout_id", payoutID), entsql.EQ("status", models.CommissionApproved))))
	if err != nil {
		return 0, fmt.Errorf("detach payout commissions: %w", err)
	}
	return n, nil
}

// PayableGroup is a (program, affiliate) pair with commissions ready to batch
type PayableGroup struct {
	ProgramID   string
	AffiliateID string
}

// ListPayableGroups returns every (program, affiliate) with approved, unheld,
// unbatched commissions created in [from, to]
func (s *Store) ListPayableGroups(ctx context.Context, from, to time.Time) ([]PayableGroup, error) {
	sel := s.builder().Select("program_id", "affiliate_id").From(entsql.Table("commissions")).Where(entsql.And(
		entsql.EQ("status", models.CommissionApproved),
		entsql.EQ("held", false),
		entsql.IsNull("payout_id"),
		entsql.GTE("created_at", Normalize(from)),
		entsql.LTE("created_at", Normalize(to)),
	)).GroupBy("program_id", "affiliate_id").OrderBy("program_id", "affiliate_id")
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []PayableGroup
	for rows.Next() {
		var g PayableGroup
		if err := rows.Scan(&g.ProgramID, &g.AffiliateID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
