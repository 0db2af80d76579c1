package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	// ErrCouponUnavailable is returned when a coupon exists but cannot be used now
	ErrCouponUnavailable = errors.New("coupon is inactive, expired or fully used")
)

// CreateInput holds data for creating a coupon
type CreateInput struct {
	AffiliateID   string                `json:"affiliate_id" validate:"required"`
	OfferID       *string               `json:"offer_id,omitempty"`
	Code          string                `json:"code" validate:"required,alphanum,min=3,max=32"`
	DiscountType  models.CommissionType `json:"discount_type" validate:"required,oneof=percent fixed"`
	DiscountValue decimal.Decimal       `json:"discount_value"`
	StartsAt      *time.Time            `json:"starts_at,omitempty"`
	EndsAt        *time.Time            `json:"ends_at,omitempty"`
	UsageLimit    *int                  `json:"usage_limit,omitempty" validate:"omitempty,min=1"`
}

// Validation is the answer to a coupon check
type Validation struct {
	Code      string         `json:"code"`
	Valid     bool           `json:"valid"`
	Remaining *int           `json:"remaining,omitempty"`
	Coupon    *models.Coupon `json:"coupon,omitempty"`
}

// Service keeps coupon usage bookkeeping
type Service struct {
	store    *store.Store
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewService creates a new coupon service
func NewService(st *store.Store, m *metrics.Metrics, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: st, validate: validator.New(), metrics: m, log: log}
}

// Create stores a new active coupon. Codes are case-insensitive and kept upper case.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Coupon, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid coupon: %w", err)
	}
	if !in.DiscountValue.IsPositive() {
		return nil, fmt.Errorf("%w: discount value must be positive", models.ErrInvalid)
	}
	if in.StartsAt != nil && in.EndsAt != nil && in.EndsAt.Before(*in.StartsAt) {
		return nil, fmt.Errorf("%w: coupon ends before it starts", models.ErrInvalid)
	}
	if _, err := s.store.GetAffiliate(ctx, in.AffiliateID); err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}

	c := &models.Coupon{
		AffiliateID:   in.AffiliateID,
		OfferID:       in.OfferID,
		Code:          normalize(in.Code),
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		StartsAt:      in.StartsAt,
		EndsAt:        in.EndsAt,
		UsageLimit:    in.UsageLimit,
		IsActive:      true,
	}
	if err := s.store.CreateCoupon(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}
	return c, nil
}

// Validate reports whether the coupon can be redeemed at the given time
func (s *Service) Validate(ctx context.Context, code string, at time.Time) (*Validation, error) {
	c, err := s.store.GetCouponByCode(ctx, normalize(code))
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	v := &Validation{Code: c.Code, Valid: c.ValidAt(at), Coupon: c}
	if c.UsageLimit != nil {
		remaining := max(*c.UsageLimit-c.UsageCount, 0)
		v.Remaining = &remaining
	}
	return v, nil
}

// Redeem consumes one use of the coupon. The usage counter is bumped in a
// single conditional update, so concurrent redemptions never exceed the limit.
func (s *Service) Redeem(ctx context.Context, code string) (*models.Coupon, error) {
	code = normalize(code)
	ok, err := s.store.RedeemCoupon(ctx, code, store.Now())
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCouponRedemption(ok)

	c, err := s.store.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	if !ok {
		return c, ErrCouponUnavailable
	}

	s.log.Debug("coupon redeemed", "code", code, "usage_count", c.UsageCount)
	return c, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
