package conversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
)

// ErrNotRefundable is returned for a refund of a non-purchase or of more than was paid
var ErrNotRefundable = errors.New("conversion cannot be refunded")

// Outcome summarizes what processing a conversion produced
type Outcome string

const (
	OutcomeAttributed        Outcome = "attributed"
	OutcomeUnattributed      Outcome = "unattributed"
	OutcomeNotCommissionable Outcome = "not_commissionable"
	OutcomeUnconfigured      Outcome = "unconfigured"
)

// Result is returned by OnConversionRecorded
type Result struct {
	ConversionID string               `json:"conversion_id"`
	Outcome      Outcome              `json:"outcome"`
	Duplicate    bool                 `json:"duplicate"`
	Credits      []attribution.Credit `json:"credits,omitempty"`
	Commissions  []*models.Commission `json:"commissions,omitempty"`
}

// RefundResult is returned by RecordRefund
type RefundResult struct {
	Refund *models.Conversion `json:"refund"`
	Voided int                `json:"voided"`
}

// Calculator creates and reverses commissions
type Calculator interface {
	Calculate(ctx context.Context, conv *models.Conversion, program *models.Program, credits []attribution.Credit) ([]*models.Commission, error)
	VoidForConversion(ctx context.Context, conversionID, reason string) (int, error)
}

// ConversionScreen inspects a conversion and its candidate clicks for fraud signals
type ConversionScreen interface {
	ScreenConversion(ctx context.Context, conv *models.Conversion, clicks []*models.Click) ([]*models.FraudFlag, error)
}

// CouponRedeemer consumes one use of a coupon
type CouponRedeemer interface {
	Redeem(ctx context.Context, code string) (*models.Coupon, error)
}

// Processor runs a recorded conversion through attribution, fraud screening
// and commission calculation
type Processor struct {
	store       *store.Store
	resolver    *attribution.Resolver
	engine      *attribution.Engine
	commissions Calculator
	screen      ConversionScreen
	coupons     CouponRedeemer
	validate    *validator.Validate
	metrics     *metrics.Metrics
	log         logger.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithScreen screens conversions before commissions are calculated
func WithScreen(screen ConversionScreen) Option {
	return func(p *Processor) { p.screen = screen }
}

// WithCoupons bumps coupon usage for newly recorded conversions
func WithCoupons(c CouponRedeemer) Option {
	return func(p *Processor) { p.coupons = c }
}

// WithMetrics records conversion outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the processor logger
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// NewProcessor creates a conversion processor
func NewProcessor(st *store.Store, resolver *attribution.Resolver, engine *attribution.Engine, commissions Calculator, opts ...Option) *Processor {
	p := &Processor{
		store:       st,
		resolver:    resolver,
		engine:      engine,
		commissions: commissions,
		validate:    validator.New(),
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnConversionRecorded persists the conversion and produces its commissions.
// The conversion id is the idempotency key: processing the same conversion
// again yields the stored commissions and never creates new ones.
func (p *Processor) OnConversionRecorded(ctx context.Context, conv *models.Conversion) (*Result, error) {
	if err := p.validate.Struct(conv); err != nil {
		return nil, fmt.Errorf("invalid conversion: %w", err)
	}

	program, err := p.store.GetProgram(ctx, conv.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	if conv.Currency == "" {
		conv.Currency = program.Currency
	}
	if conv.OccurredAt.IsZero() {
		conv.OccurredAt = store.Now()
	}

	inserted, err := p.store.InsertConversion(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("failed to record conversion: %w", err)
	}
	if !inserted {
		// the stored copy wins over a resubmitted payload
		stored, err := p.store.GetConversion(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversion: %w", err)
		}
		conv = stored
	} else if conv.CouponCode != "" && p.coupons != nil {
		if _, err := p.coupons.Redeem(ctx, conv.CouponCode); err != nil {
			p.log.Warn("coupon redemption failed", "conversion_id", conv.ID, "code", conv.CouponCode, "error", err)
		}
	}

	res := &Result{ConversionID: conv.ID, Duplicate: !inserted}
	defer func() {
		if res.Outcome != "" {
			p.metrics.RecordConversion(string(res.Outcome))
		}
	}()

	if !conv.Commissionable() {
		res.Outcome = OutcomeNotCommissionable
		return res, nil
	}

	rule, err := p.store.GetAttributionRule(ctx, conv.ProgramID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to get attribution rule: %w", err)
	}

	clicks, err := p.resolver.ClicksForConversion(ctx, conv, rule)
	if err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			p.log.Warn("conversion left unattributed", "conversion_id", conv.ID, "reason", cfgErr.Error())
			res.Outcome = OutcomeUnconfigured
			return res, nil
		}
		return nil, err
	}

	res.Credits = p.engine.Attribute(conv, clicks, rule)
	if len(res.Credits) == 0 {
		res.Outcome = OutcomeUnattributed
		return res, nil
	}

	if p.screen != nil {
		credited := make([]*models.Click, len(res.Credits))
		for i, cr := range res.Credits {
			credited[i] = cr.Click
		}
		if _, err := p.screen.ScreenConversion(ctx, conv, credited); err != nil {
			return nil, fmt.Errorf("failed to screen conversion: %w", err)
		}
	}

	res.Commissions, err = p.commissions.Calculate(ctx, conv, program, res.Credits)
	if err != nil {
		return nil, err
	}
	res.Outcome = OutcomeAttributed

	p.log.Info("conversion processed",
		"conversion_id", conv.ID,
		"program_id", conv.ProgramID,
		"credits", len(res.Credits),
		"commissions", len(res.Commissions),
		"duplicate", res.Duplicate,
	)
	return res, nil
}

// RecordRefund stores a refund against an earlier conversion and voids the
// commissions it produced that have not been paid or batched
func (p *Processor) RecordRefund(ctx context.Context, originalID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	original, err := p.store.GetConversion(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	if original.Type != models.ConversionPurchase {
		return nil, fmt.Errorf("conversion %s is a %s: %w", originalID, original.Type, ErrNotRefundable)
	}
	if amount.IsZero() {
		amount = original.Amount
	}
	if amount.IsNegative() || amount.GreaterThan(original.Amount) {
		return nil, fmt.Errorf("refund amount %s outside 0..%s: %w", amount, original.Amount, ErrNotRefundable)
	}
	if reason == "" {
		reason = "refund"
	}

	refund := &models.Conversion{
		ID:                   originalID + ":refund",
		ProgramID:            original.ProgramID,
		OfferID:              original.OfferID,
		Type:                 models.ConversionRefund,
		Amount:               amount,
		Currency:             original.Currency,
		CustomerEmail:        original.CustomerEmail,
		OrderID:              original.OrderID,
		RefundedConversionID: originalID,
		OccurredAt:           store.Now(),
	}
	inserted, err := p.store.InsertConversion(ctx, refund)
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	if !inserted {
		if refund, err = p.store.GetConversion(ctx, refund.ID); err != nil {
			return nil, fmt.Errorf("failed to get refund: %w", err)
		}
	}

	voided, err := p.commissions.VoidForConversion(ctx, originalID, reason)
	if err != nil {
		return nil, err
	}

	p.log.Info("refund recorded", "conversion_id", originalID, "amount", amount.StringFixed(2), "voided", voided)
	return &RefundResult{Refund: refund, Voided: voided}, nil
}
