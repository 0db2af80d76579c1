package conversion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/commission"
	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	st        *store.Store
	processor *Processor
	coupons   *coupon.Service
	program   *models.Program
	offer     *models.Offer
}

func setup(t *testing.T, opts ...Option) *env {
	st := testdata.NewStore(t)
	screen := fraud.NewScreen(st, fraud.DefaultRules(), nil, nil)
	coupons := coupon.NewService(st, nil, nil)
	calc := commission.NewService(st, screen, commission.Config{HoldSeverity: commission.DefaultHoldSeverity})
	resolver := attribution.NewResolver(st, attribution.NewStoreIdentityResolver(st))

	opts = append([]Option{WithScreen(screen), WithCoupons(coupons)}, opts...)
	p := testdata.Program(t, st)
	return &env{
		st:        st,
		processor: NewProcessor(st, resolver, attribution.NewEngine(), calc, opts...),
		coupons:   coupons,
		program:   p,
		offer:     testdata.Offer(t, st, p.ID),
	}
}

func (e *env) click(t *testing.T, a *models.Affiliate, cookie string, at time.Time) *models.Click {
	return testdata.Click(t, e.st, testdata.Link(t, e.st, a, e.offer), cookie, at)
}

func TestOnConversionRecorded_LinearEndToEnd(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLinear, 30)
	testdata.LevelRule(t, e.st, e.program.ID, 1, 10)

	now := time.Now().UTC()
	first := testdata.Affiliate(t, e.st, e.program.ID, nil)
	second := testdata.Affiliate(t, e.st, e.program.ID, nil)
	e.click(t, first, "visitor-1", now.Add(-72*time.Hour))
	e.click(t, second, "visitor-1", now.Add(-24*time.Hour))

	conv := testdata.Purchase(e.program.ID, "visitor-1", 100, now)
	res, err := e.processor.OnConversionRecorded(ctx, conv)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAttributed, res.Outcome)
	assert.False(t, res.Duplicate)
	require.Len(t, res.Credits, 2)
	require.Len(t, res.Commissions, 2)

	byAffiliate := map[string]*models.Commission{}
	for _, c := range res.Commissions {
		byAffiliate[c.AffiliateID] = c
		assert.Equal(t, "50.0000", c.BaseAmount.StringFixed(4))
		assert.Equal(t, "5.00", c.Amount.StringFixed(2))
		assert.Equal(t, models.CommissionApproved, c.Status)
		assert.Equal(t, 1, c.Level)
	}
	assert.Contains(t, byAffiliate, first.ID)
	assert.Contains(t, byAffiliate, second.ID)

	t.Run("Reprocessing is idempotent", func(t *testing.T) {
		replay := *conv
		res2, err := e.processor.OnConversionRecorded(ctx, &replay)
		require.NoError(t, err)
		assert.True(t, res2.Duplicate)
		require.Len(t, res2.Commissions, 2)

		ids := map[string]bool{}
		for _, c := range res.Commissions {
			ids[c.ID] = true
		}
		for _, c := range res2.Commissions {
			assert.True(t, ids[c.ID])
		}

		stored, err := e.st.ListCommissions(ctx, store.CommissionFilter{ConversionID: conv.ID})
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})
}

func TestOnConversionRecorded_Outcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("Lead is not commissionable", func(t *testing.T) {
		e := setup(t)
		testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
		conv := testdata.Purchase(e.program.ID, "visitor", 0, time.Now())
		conv.Type = models.ConversionLead

		res, err := e.processor.OnConversionRecorded(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotCommissionable, res.Outcome)

		stored, err := e.st.GetConversion(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConversionLead, stored.Type)
	})

	t.Run("Program without attribution rule", func(t *testing.T) {
		e := setup(t)
		a := testdata.Affiliate(t, e.st, e.program.ID, nil)
		e.click(t, a, "visitor", time.Now().Add(-time.Hour))

		res, err := e.processor.OnConversionRecorded(ctx, testdata.Purchase(e.program.ID, "visitor", 40, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnconfigured, res.Outcome)
		assert.Empty(t, res.Commissions)
	})

	t.Run("No click in the window", func(t *testing.T) {
		e := setup(t)
		testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 7)
		a := testdata.Affiliate(t, e.st, e.program.ID, nil)
		e.click(t, a, "visitor", time.Now().Add(-10*24*time.Hour))

		res, err := e.processor.OnConversionRecorded(ctx, testdata.Purchase(e.program.ID, "visitor", 40, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnattributed, res.Outcome)
		assert.Empty(t, res.Credits)
	})

	t.Run("Unknown program", func(t *testing.T) {
		e := setup(t)
		_, err := e.processor.OnConversionRecorded(ctx, testdata.Purchase("missing", "visitor", 40, time.Now()))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Invalid payload", func(t *testing.T) {
		e := setup(t)
		conv := testdata.Purchase(e.program.ID, "visitor", 40, time.Now())
		conv.Type = "subscription"
		_, err := e.processor.OnConversionRecorded(ctx, conv)
		assert.Error(t, err)
	})
}

func TestOnConversionRecorded_SelfReferralHold(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
	testdata.LevelRule(t, e.st, e.program.ID, 1, 10)

	a := testdata.Affiliate(t, e.st, e.program.ID, nil)
	e.click(t, a, "visitor", time.Now().Add(-time.Hour))

	conv := testdata.Purchase(e.program.ID, "visitor", 80, time.Now())
	conv.CustomerEmail = a.Email

	res, err := e.processor.OnConversionRecorded(ctx, conv)
	require.NoError(t, err)
	require.Len(t, res.Commissions, 1)
	assert.Equal(t, models.CommissionPending, res.Commissions[0].Status)
	assert.True(t, res.Commissions[0].Held)
	assert.Contains(t, res.Commissions[0].HoldReason, "self_referral")
}

func TestOnConversionRecorded_CouponRedeemedOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
	a := testdata.Affiliate(t, e.st, e.program.ID, nil)

	_, err := e.coupons.Create(ctx, coupon.CreateInput{
		AffiliateID:   a.ID,
		Code:          "WELCOME",
		DiscountType:  models.CommissionTypePercent,
		DiscountValue: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	conv := testdata.Purchase(e.program.ID, "visitor", 30, time.Now())
	conv.CouponCode = "WELCOME"
	for i := 0; i < 3; i++ {
		replay := *conv
		_, err := e.processor.OnConversionRecorded(ctx, &replay)
		require.NoError(t, err)
	}

	v, err := e.coupons.Validate(ctx, "WELCOME", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, v.Coupon.UsageCount)
}

type failingClicks struct{}

func (failingClicks) ClicksForVisitor(ctx context.Context, programID string, keys models.VisitorKeys, from, to time.Time) ([]*models.Click, error) {
	return nil, errors.New("click store unavailable")
}

func TestOnConversionRecorded_LookupFailure(t *testing.T) {
	st := testdata.NewStore(t)
	ctx := context.Background()
	p := testdata.Program(t, st)
	testdata.AttributionRule(t, st, p.ID, models.ModelLastClick, 30)

	calc := commission.NewService(st, fraud.NewScreen(st, fraud.DefaultRules(), nil, nil), commission.Config{})
	processor := NewProcessor(st, attribution.NewResolver(failingClicks{}, nil), attribution.NewEngine(), calc)

	conv := testdata.Purchase(p.ID, "visitor", 30, time.Now())
	_, err := processor.OnConversionRecorded(ctx, conv)

	var lookupErr *models.ExternalLookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "clicks", lookupErr.Lookup)

	// the conversion is kept so a retry can pick it up
	_, err = st.GetConversion(ctx, conv.ID)
	assert.NoError(t, err)
}

func TestRecordRefund(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
	testdata.LevelRule(t, e.st, e.program.ID, 1, 10)
	a := testdata.Affiliate(t, e.st, e.program.ID, nil)
	e.click(t, a, "visitor", time.Now().Add(-time.Hour))

	conv := testdata.Purchase(e.program.ID, "visitor", 60, time.Now())
	res, err := e.processor.OnConversionRecorded(ctx, conv)
	require.NoError(t, err)
	require.Len(t, res.Commissions, 1)

	refund, err := e.processor.RecordRefund(ctx, conv.ID, decimal.Zero, "")
	require.NoError(t, err)
	assert.Equal(t, 1, refund.Voided)
	assert.Equal(t, models.ConversionRefund, refund.Refund.Type)
	assert.Equal(t, conv.ID, refund.Refund.RefundedConversionID)
	assert.Equal(t, "60.00", refund.Refund.Amount.StringFixed(2))

	got, err := e.st.GetCommission(ctx, res.Commissions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionVoid, got.Status)
	assert.Equal(t, "refund", got.VoidReason)

	t.Run("Second refund is a no-op", func(t *testing.T) {
		again, err := e.processor.RecordRefund(ctx, conv.ID, decimal.Zero, "")
		require.NoError(t, err)
		assert.Equal(t, 0, again.Voided)
		assert.Equal(t, refund.Refund.ID, again.Refund.ID)
	})

	t.Run("Refund larger than the sale", func(t *testing.T) {
		_, err := e.processor.RecordRefund(ctx, conv.ID, decimal.NewFromInt(500), "")
		assert.ErrorIs(t, err, ErrNotRefundable)
	})

	t.Run("Unknown conversion", func(t *testing.T) {
		_, err := e.processor.RecordRefund(ctx, "missing", decimal.Zero, "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
