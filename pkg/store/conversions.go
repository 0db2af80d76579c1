package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var conversionColumns = []string{
	"id", "program_id", "offer_id", "type", "amount", "currency", "cookie_id", "session_id", "subscriber_id",
	"customer_email", "order_id", "coupon_code", "refunded_conversion_id", "occurred_at", "created_at",
}

func scanConversion(row scanner) (*models.Conversion, error) {
	var (
		c                                  models.Conversion
		offer, cookie, session, subscriber sql.NullString
		email, order, coupon, refundedID   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ProgramID, &offer, &c.Type, &c.Amount, &c.Currency, &cookie, &session,
		&subscriber, &email, &order, &coupon, &refundedID, &c.OccurredAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.OfferID = offer.String
	c.CookieID = cookie.String
	c.SessionID = session.String
	c.SubscriberID = subscriber.String
	c.CustomerEmail = email.String
	c.OrderID = order.String
	c.CouponCode = coupon.String
	c.RefundedConversionID = refundedID.String
	c.OccurredAt = c.OccurredAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// InsertConversion stores a conversion once. It reports false when a
// conversion with the same id already exists.
func (s *Store) InsertConversion(ctx context.Context, c *models.Conversion) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = Now()
	}
	c.OccurredAt = Normalize(c.OccurredAt)
	n, err := s.exec(ctx, s.builder().Insert("conversions").Columns(conversionColumns...).
		Values(c.ID, c.ProgramID, nullString(c.OfferID), c.Type, c.Amount, c.Currency, nullString(c.CookieID),
			nullString(c.SessionID), nullString(c.SubscriberID), nullString(c.CustomerEmail), nullString(c.OrderID),
			nullString(c.CouponCode), nullString(c.RefundedConversionID), c.OccurredAt, Normalize(c.CreatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()))
	if err != nil {
		return false, fmt.Errorf("insert conversion: %w", err)
	}
	return n > 0, nil
}

// GetConversion returns a conversion by id
func (s *Store) GetConversion(ctx context.Context, id string) (*models.Conversion, error) {
	sel := s.builder().Select(conversionColumns...).From(entsql.Table("conversions")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanConversion, models.ErrNotFound)
}
