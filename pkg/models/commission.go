package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionStatus is the lifecycle state of a commission
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
	CommissionVoid     CommissionStatus = "void"
)

// commissionTransitions lists the forward-only edges of the commission lifecycle
var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:  {CommissionApproved, CommissionVoid},
	CommissionApproved: {CommissionPaid, CommissionVoid},
}

// CanTransitionTo reports whether s may move to next
func (s CommissionStatus) CanTransitionTo(next CommissionStatus) bool {
	for _, allowed := range commissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Commission is the monetary credit owed to one affiliate for one conversion at one level
type Commission struct {
	ID           string           `json:"id"`
	ProgramID    string           `json:"program_id"`
	ConversionID string           `json:"conversion_id"`
	AffiliateID  string           `json:"affiliate_id"`
	ClickID      string           `json:"click_id"`
	Level        int              `json:"level"`
	Weight       float64          `json:"weight"`
	BaseAmount   decimal.Decimal  `json:"base_amount"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	Status       CommissionStatus `json:"status"`
	Held         bool             `json:"held"`
	HoldReason   string           `json:"hold_reason,omitempty"`
	VoidReason   string           `json:"void_reason,omitempty"`
	PayoutID     *string          `json:"payout_id,omitempty"`
	ApprovedAt   *time.Time       `json:"approved_at,omitempty"`
	PaidAt       *time.Time       `json:"paid_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// CommissionSummary aggregates an affiliate's commissions by status
type CommissionSummary struct {
	AffiliateID string          `json:"affiliate_id"`
	Total       decimal.Decimal `json:"total"`
	Pending     decimal.Decimal `json:"pending"`
	Held        decimal.Decimal `json:"held"`
	Approved    decimal.Decimal `json:"approved"`
	Paid        decimal.Decimal `json:"paid"`
	Void        decimal.Decimal `json:"void"`
	Count       int             `json:"count"`
}
