package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionType is the kind of event that happened
type ConversionType string

const (
	ConversionPurchase ConversionType = "purchase"
	ConversionLead     ConversionType = "lead"
	ConversionRefund   ConversionType = "refund"
)

// Conversion is a sale or signup event. Its ID is assigned by the
// collaborator that reports it and doubles as the idempotency key.
type Conversion struct {
	ID                   string          `json:"id" validate:"required,max=64"`
	ProgramID            string          `json:"program_id" validate:"required"`
	OfferID              string          `json:"offer_id,omitempty"`
	Type                 ConversionType  `json:"type" validate:"required,oneof=purchase lead refund"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency" validate:"omitempty,len=3"`
	CookieID             string          `json:"cookie_id,omitempty"`
	SessionID            string          `json:"session_id,omitempty"`
	SubscriberID         string          `json:"subscriber_id,omitempty"`
	CustomerEmail        string          `json:"customer_email,omitempty" validate:"omitempty,email"`
	OrderID              string          `json:"order_id,omitempty"`
	CouponCode           string          `json:"coupon_code,omitempty"`
	RefundedConversionID string          `json:"refunded_conversion_id,omitempty"`
	OccurredAt           time.Time       `json:"occurred_at"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Commissionable reports whether the conversion can generate commissions
func (c *Conversion) Commissionable() bool {
	return c.Type == ConversionPurchase && c.Amount.IsPositive()
}
