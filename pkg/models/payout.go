package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the state of a payout batch
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutProcessing, PayoutFailed},
	PayoutProcessing: {PayoutCompleted, PayoutFailed},
}

// CanTransitionTo reports whether the payout state machine allows s → next
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

// Payout aggregates an affiliate's approved commissions for one period
type Payout struct {
	ID               string          `json:"id"`
	ProgramID        string          `json:"program_id"`
	AffiliateID      string          `json:"affiliate_id"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Currency         string          `json:"currency"`
	Status           PayoutStatus    `json:"status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	ItemCount        int             `json:"item_count"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// ActiveKey identifies the (program, affiliate, period) slot a non-terminal payout occupies
func (p *Payout) ActiveKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", p.ProgramID, p.AffiliateID,
		p.PeriodStart.UTC().Format(time.RFC3339), p.PeriodEnd.UTC().Format(time.RFC3339))
}

// PayoutItem snapshots one commission's amount at batch time
type PayoutItem struct {
	ID           string          `json:"id"`
	PayoutID     string          `json:"payout_id"`
	CommissionID string          `json:"commission_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}
