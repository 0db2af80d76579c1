package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProgramStatus is the lifecycle state of an affiliate program
type ProgramStatus string

const (
	ProgramStatusDraft  ProgramStatus = "draft"
	ProgramStatusActive ProgramStatus = "active"
	ProgramStatusPaused ProgramStatus = "paused"
)

// CommissionType selects how a commission value is applied
type CommissionType string

const (
	CommissionTypePercent CommissionType = "percent"
	CommissionTypeFixed   CommissionType = "fixed"
)

// DefaultMaxLevels is used when a program does not set max_levels
const DefaultMaxLevels = 2

// Program is a tenant-owned affiliate program
type Program struct {
	ID                     string          `json:"id"`
	OwnerID                string          `json:"owner_id" validate:"required"`
	Name                   string          `json:"name" validate:"required,max=255"`
	Currency               string          `json:"currency" validate:"required,len=3"`
	CookieDays             int             `json:"cookie_days" validate:"gte=0"`
	DefaultCommissionType  CommissionType  `json:"default_commission_type" validate:"required,oneof=percent fixed"`
	DefaultCommissionValue decimal.Decimal `json:"default_commission_value"`
	MaxLevels              int             `json:"max_levels" validate:"gte=1,lte=10"`
	Status                 ProgramStatus   `json:"status" validate:"required,oneof=draft active paused"`
	CreatedAt              time.Time       `json:"created_at"`
}

// AttributionModel is the policy that decides which clicks get credit
type AttributionModel string

const (
	ModelFirstClick AttributionModel = "first_click"
	ModelLastClick  AttributionModel = "last_click"
	ModelLinear     AttributionModel = "linear"
	ModelTimeDecay  AttributionModel = "time_decay"
)

// Valid reports whether m is a known attribution model
func (m AttributionModel) Valid() bool {
	switch m {
	case ModelFirstClick, ModelLastClick, ModelLinear, ModelTimeDecay:
		return true
	}
	return false
}

// DefaultHalfLifeDays applies to time_decay rules without explicit parameters
const DefaultHalfLifeDays = 7.0

// TimeDecayParams are the settings of a time_decay rule
type TimeDecayParams struct {
	HalfLifeDays float64 `json:"half_life_days"`
}

// AttributionRule is the attribution policy of a program (at most one per program)
type AttributionRule struct {
	ID                  string           `json:"id"`
	ProgramID           string           `json:"program_id" validate:"required"`
	Model               AttributionModel `json:"model" validate:"required,oneof=first_click last_click linear time_decay"`
	WindowDays          int              `json:"window_days" validate:"gte=1"`
	CrossDeviceTracking bool             `json:"cross_device_tracking"`
	TimeDecay           *TimeDecayParams `json:"time_decay,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// HalfLife returns the decay half-life, falling back to DefaultHalfLifeDays
func (r *AttributionRule) HalfLife() time.Duration {
	days := DefaultHalfLifeDays
	if r.TimeDecay != nil && r.TimeDecay.HalfLifeDays > 0 {
		days = r.TimeDecay.HalfLifeDays
	}
	return time.Duration(days * float64(24*time.Hour))
}

// Window returns the lookback horizon as a duration
func (r *AttributionRule) Window() time.Duration {
	return time.Duration(r.WindowDays) * 24 * time.Hour
}

// LevelConditions are extra predicates a conversion must satisfy for a level to pay
type LevelConditions struct {
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	Currencies     []string         `json:"currencies,omitempty"`
}

// Allows reports whether the conversion satisfies every condition
func (c *LevelConditions) Allows(conv *Conversion) bool {
	if c == nil {
		return true
	}
	if c.MinOrderAmount != nil && conv.Amount.LessThan(*c.MinOrderAmount) {
		return false
	}
	if len(c.Currencies) > 0 {
		for _, cur := range c.Currencies {
			if strings.EqualFold(cur, conv.Currency) {
				return true
			}
		}
		return false
	}
	return true
}

// LevelRule is the commission rule of one level of a program's cascade
type LevelRule struct {
	ID               string           `json:"id"`
	ProgramID        string           `json:"program_id" validate:"required"`
	Level            int              `json:"level" validate:"gte=1"`
	CommissionType   CommissionType   `json:"commission_type" validate:"required,oneof=percent fixed"`
	CommissionValue  decimal.Decimal  `json:"commission_value"`
	MinSalesRequired int              `json:"min_sales_required" validate:"gte=0"`
	Conditions       *LevelConditions `json:"conditions,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// OfferReferralFactor scales an offer's commission for referrers above level 1
var OfferReferralFactor = decimal.NewFromFloat(0.5)

// Offer is a product or funnel promoted inside a program. An offer with a
// commission type overrides the program default when the program has no
// level rules.
type Offer struct {
	ID              string          `json:"id"`
	ProgramID       string          `json:"program_id" validate:"required"`
	Name            string          `json:"name" validate:"required,max=255"`
	CommissionType  CommissionType  `json:"commission_type,omitempty" validate:"omitempty,oneof=percent fixed"`
	CommissionValue decimal.Decimal `json:"commission_value"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasCommission reports whether the offer carries its own commission
func (o *Offer) HasCommission() bool {
	return o != nil && o.CommissionType != ""
}
