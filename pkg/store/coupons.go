package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var couponColumns = []string{
	"id", "affiliate_id", "offer_id", "code", "discount_type", "discount_value", "starts_at", "ends_at",
	"usage_limit", "usage_count", "is_active", "created_at",
}

func scanCoupon(row scanner) (*models.Coupon, error) {
	var (
		c              models.Coupon
		offerID        sql.NullString
		startsAt, ends sql.NullTime
		limit          sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.AffiliateID, &offerID, &c.Code, &c.DiscountType, &c.DiscountValue, &startsAt,
		&ends, &limit, &c.UsageCount, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.OfferID = stringPtr(offerID)
	c.StartsAt = timePtr(startsAt)
	c.EndsAt = timePtr(ends)
	if limit.Valid {
		v := int(limit.Int64)
		c.UsageLimit = &v
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// CreateCoupon inserts a coupon. A taken code yields ErrDuplicate.
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = Now()
	}
	var limit sql.NullInt64
	if c.UsageLimit != nil {
		limit = sql.NullInt64{Int64: int64(*c.UsageLimit), Valid: true}
	}
	n, err := s.exec(ctx, s.builder().Insert("coupons").Columns(couponColumns...).
		Values(c.ID, c.AffiliateID, nullStringPtr(c.OfferID), c.Code, c.DiscountType, c.DiscountValue,
			nullTime(c.StartsAt), nullTime(c.EndsAt), limit, c.UsageCount, c.IsActive, Normalize(c.CreatedAt)).
		OnConflict(entsql.ConflictColumns("code"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetCouponByCode returns a coupon by its code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	sel := s.builder().Select(couponColumns...).From(entsql.Table("coupons")).Where(entsql.EQ("code", code))
	return queryOne(ctx, s, sel, scanCoupon, models.ErrNotFound)
}

// RedeemCoupon bumps usage_count in one conditional UPDATE. It reports false
// when the coupon is inactive, outside its window or at its usage limit.
func (s *Store) RedeemCoupon(ctx context.Context, code string, at time.Time) (bool, error) {
	at = Normalize(at)
	n, err := s.exec(ctx, s.builder().Update("coupons").Add("usage_count", 1).Where(entsql.And(
		entsql.EQ("code", code),
		entsql.EQ("is_active", true),
		entsql.Or(entsql.IsNull("starts_at"), entsql.LTE("starts_at", at)),
		entsql.Or(entsql.IsNull("ends_at"), entsql.GTE("ends_at", at)),
		entsql.Or(entsql.IsNull("usage_limit"), entsql.ColumnsLT("usage_count", "usage_limit")),
	)))
	if err != nil {
		return false, fmt.Errorf("redeem coupon: %w", err)
	}
	return n > 0, nil
}
