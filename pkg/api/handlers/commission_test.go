package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(c *models.Commission) {
	c.Status = models.CommissionPending
	c.ApprovedAt = nil
}

func TestCommissionHandler_List(t *testing.T) {
	e := setupHandlers(t)
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	now := time.Now()
	testdata.Commission(t, e.st, aff, 10, now)
	testdata.Commission(t, e.st, aff, 4, now, pending)

	t.Run("Success - All", func(t *testing.T) {
		rec := call(t, e.commissions.ListForAffiliate, http.MethodGet, "/api/v1/affiliates/"+aff.ID+"/commissions", "", "id", aff.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]models.Commission](t, rec), 2)
	})

	t.Run("Success - By status", func(t *testing.T) {
		rec := call(t, e.commissions.ListForAffiliate, http.MethodGet, "/api/v1/affiliates/"+aff.ID+"/commissions?status=pending", "", "id", aff.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]models.Commission](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, models.CommissionPending, list[0].Status)
	})

	t.Run("Success - Empty list is an array", func(t *testing.T) {
		rec := call(t, e.commissions.ListForAffiliate, http.MethodGet, "/api/v1/affiliates/"+aff.ID+"/commissions?status=paid", "", "id", aff.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("Failure - Unknown status", func(t *testing.T) {
		rec := call(t, e.commissions.ListForAffiliate, http.MethodGet, "/api/v1/affiliates/"+aff.ID+"/commissions?status=held", "", "id", aff.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_status", errorCode(t, rec))
	})

	t.Run("Success - Summary", func(t *testing.T) {
		rec := call(t, e.commissions.Summary, http.MethodGet, "/api/v1/affiliates/"+aff.ID+"/summary", "", "id", aff.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		sum := decode[models.CommissionSummary](t, rec)
		assert.Equal(t, 2, sum.Count)
		assert.Equal(t, "14.00", sum.Total.StringFixed(2))
		assert.Equal(t, "4.00", sum.Pending.StringFixed(2))
	})
}

func TestCommissionHandler_Lifecycle(t *testing.T) {
	e := setupHandlers(t)
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	c := testdata.Commission(t, e.st, aff, 12, time.Now(), pending)

	t.Run("Success - Approve", func(t *testing.T) {
		rec := call(t, e.commissions.Approve, http.MethodPost, "/api/v1/commissions/"+c.ID+"/approve", "", "id", c.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.CommissionApproved, decode[models.Commission](t, rec).Status)
	})

	t.Run("Failure - Void needs a reason", func(t *testing.T) {
		rec := call(t, e.commissions.Void, http.MethodPost, "/api/v1/commissions/"+c.ID+"/void", `{}`, "id", c.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Success - Void", func(t *testing.T) {
		rec := call(t, e.commissions.Void, http.MethodPost, "/api/v1/commissions/"+c.ID+"/void", `{"reason":"test order"}`, "id", c.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[models.Commission](t, rec)
		assert.Equal(t, models.CommissionVoid, got.Status)
		assert.Equal(t, "test order", got.VoidReason)
	})

	t.Run("Failure - Void never goes back to approved", func(t *testing.T) {
		rec := call(t, e.commissions.Approve, http.MethodPost, "/api/v1/commissions/"+c.ID+"/approve", "", "id", c.ID)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Failure - Unknown commission", func(t *testing.T) {
		rec := call(t, e.commissions.Approve, http.MethodPost, "/api/v1/commissions/missing/approve", "", "id", "missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCommissionHandler_ReleaseHeld(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)

	held := testdata.Commission(t, e.st, aff, 9, time.Now(), pending, func(c *models.Commission) {
		c.Held = true
		c.HoldReason = "self_referral"
	})
	convID := held.ConversionID
	flag, err := fraud.NewScreen(e.st, fraud.DefaultRules(), nil, nil).Flag(ctx, fraud.FlagInput{
		AffiliateID:  aff.ID,
		Type:         models.FraudSelfReferral,
		Reason:       "customer email matches affiliate",
		Severity:     9,
		ConversionID: convID,
	})
	require.NoError(t, err)

	rec := call(t, e.commissions.ReleaseHeld, http.MethodPost, "/api/v1/commissions/release-held", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":0}`, rec.Body.String())

	rec = call(t, e.fraud.Review, http.MethodPost, "/api/v1/fraud/flags/"+flag.ID+"/review", `{"reviewer_id":"ops-1"}`, "id", flag.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e.commissions.ReleaseHeld, http.MethodPost, "/api/v1/commissions/release-held", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":1}`, rec.Body.String())

	got, err := e.st.GetCommission(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionApproved, got.Status)
}
