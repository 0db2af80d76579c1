package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a discount code linked to an affiliate
type Coupon struct {
	ID            string          `json:"id"`
	AffiliateID   string          `json:"affiliate_id"`
	OfferID       *string         `json:"offer_id,omitempty"`
	Code          string          `json:"code"`
	DiscountType  CommissionType  `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	StartsAt      *time.Time      `json:"starts_at,omitempty"`
	EndsAt        *time.Time      `json:"ends_at,omitempty"`
	UsageLimit    *int            `json:"usage_limit,omitempty"`
	UsageCount    int             `json:"usage_count"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ValidAt reports whether the coupon can be redeemed at t
func (c *Coupon) ValidAt(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && t.After(*c.EndsAt) {
		return false
	}
	return c.UsageLimit == nil || c.UsageCount < *c.UsageLimit
}
