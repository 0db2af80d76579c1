package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanlanch/affiliate-engine/pkg/affiliate"
	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/commission"
	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/payout"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/jordanlanch/affiliate-engine/pkg/tracking"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const visitorSecret = "visitor-hash-secret-for-tests"

// env wires every handler over one in-memory store
type env struct {
	st      *store.Store
	program *models.Program
	offer   *models.Offer

	tracking    *TrackingHandler
	conversions *ConversionHandler
	commissions *CommissionHandler
	fraud       *FraudHandler
	payouts     *PayoutHandler
	coupons     *CouponHandler
	affiliates  *AffiliateHandler
}

func setupHandlers(t *testing.T, payoutOpts ...payout.Option) *env {
	t.Helper()
	st := testdata.NewStore(t)

	screen := fraud.NewScreen(st, fraud.DefaultRules(), nil, nil)
	commissions := commission.NewService(st, screen, commission.Config{HoldSeverity: commission.DefaultHoldSeverity})
	coupons := coupon.NewService(st, nil, nil)
	resolver := attribution.NewResolver(st, attribution.NewStoreIdentityResolver(st))
	processor := conversion.NewProcessor(st, resolver, attribution.NewEngine(), commissions,
		conversion.WithScreen(screen), conversion.WithCoupons(coupons))

	p := testdata.Program(t, st)
	return &env{
		st:          st,
		program:     p,
		offer:       testdata.Offer(t, st, p.ID),
		tracking:    NewTrackingHandler(tracking.NewService(st, tracking.WithScreen(screen)), visitorSecret),
		conversions: NewConversionHandler(processor),
		commissions: NewCommissionHandler(commissions),
		fraud:       NewFraudHandler(screen),
		payouts:     NewPayoutHandler(payout.NewService(st, payoutOpts...)),
		coupons:     NewCouponHandler(coupons),
		affiliates:  NewAffiliateHandler(affiliate.NewService(st, nil)),
	}
}

// call runs handler against a request. params alternate name, value.
func call(t *testing.T, handler echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)

	require.NoError(t, handler(c))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[models.ErrorResponse](t, rec).Error
}
