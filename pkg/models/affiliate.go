package models

import "time"

// AffiliateStatus is the enrollment state of an affiliate
type AffiliateStatus string

const (
	AffiliateStatusPending  AffiliateStatus = "pending"
	AffiliateStatusApproved AffiliateStatus = "approved"
	AffiliateStatusBlocked  AffiliateStatus = "blocked"
)

// Affiliate is a participant enrolled in a program, optionally referred by another affiliate
type Affiliate struct {
	ID           string          `json:"id"`
	ProgramID    string          `json:"program_id" validate:"required"`
	ParentID     *string         `json:"parent_id,omitempty"`
	Email        string          `json:"email" validate:"required,email"`
	Name         string          `json:"name" validate:"required,max=255"`
	ReferralCode string          `json:"referral_code"`
	Status       AffiliateStatus `json:"status"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Link is a tracking link of one affiliate for one offer
type Link struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	OfferID     string    `json:"offer_id"`
	ProgramID   string    `json:"program_id"`
	Code        string    `json:"code"`
	ClicksCount int64     `json:"clicks_count"`
	CreatedAt   time.Time `json:"created_at"`
}
