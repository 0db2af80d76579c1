package models

import "time"

// FraudType classifies a fraud flag
type FraudType string

const (
	FraudDuplicateIP       FraudType = "duplicate_ip"
	FraudSuspiciousPattern FraudType = "suspicious_pattern"
	FraudSelfReferral      FraudType = "self_referral"
	FraudRapidClicks       FraudType = "rapid_clicks"
	FraudVPNDetected       FraudType = "vpn_detected"
	FraudOther             FraudType = "other"
)

// DefaultFraudSeverity is used when a flag is raised without an explicit severity
const DefaultFraudSeverity = 5

// FraudFlag attaches to a click or conversion. It blocks nothing by itself;
// the commission gate reads it at approval time.
type FraudFlag struct {
	ID           string            `json:"id"`
	AffiliateID  string            `json:"affiliate_id"`
	ClickID      *string           `json:"click_id,omitempty"`
	ConversionID *string           `json:"conversion_id,omitempty"`
	Type         FraudType         `json:"type"`
	Reason       string            `json:"reason"`
	Severity     int               `json:"severity"`
	DedupeKey    string            `json:"-"`
	Meta         map[string]string `json:"meta,omitempty"`
	Reviewed     bool              `json:"reviewed"`
	ReviewedAt   *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy   *string           `json:"reviewed_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
