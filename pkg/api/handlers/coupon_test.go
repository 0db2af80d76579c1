package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouponHandler(t *testing.T) {
	e := setupHandlers(t)
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)

	t.Run("Success - Create normalizes the code", func(t *testing.T) {
		body := fmt.Sprintf(`{"affiliate_id":%q,"code":"summer25","discount_type":"percent","discount_value":"25","usage_limit":2,
			"starts_at":"2026-06-01T00:00:00Z","ends_at":"2026-08-31T23:59:59Z"}`, aff.ID)
		rec := call(t, e.coupons.Create, http.MethodPost, "/api/v1/coupons", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "SUMMER25", decode[models.Coupon](t, rec).Code)
	})

	t.Run("Failure - Duplicate code", func(t *testing.T) {
		body := fmt.Sprintf(`{"affiliate_id":%q,"code":"SUMMER25","discount_type":"fixed","discount_value":"5"}`, aff.ID)
		rec := call(t, e.coupons.Create, http.MethodPost, "/api/v1/coupons", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Failure - Zero discount", func(t *testing.T) {
		body := fmt.Sprintf(`{"affiliate_id":%q,"code":"NOTHING","discount_type":"fixed","discount_value":"0"}`, aff.ID)
		rec := call(t, e.coupons.Create, http.MethodPost, "/api/v1/coupons", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Success - Valid inside the window", func(t *testing.T) {
		rec := call(t, e.coupons.Validate, http.MethodGet, "/api/v1/coupons/summer25/validate?at=2026-07-04T12:00:00Z", "", "code", "summer25")
		require.Equal(t, http.StatusOK, rec.Code)
		v := decode[coupon.Validation](t, rec)
		assert.True(t, v.Valid)
		require.NotNil(t, v.Remaining)
		assert.Equal(t, 2, *v.Remaining)
	})

	t.Run("Success - Invalid after the window", func(t *testing.T) {
		rec := call(t, e.coupons.Validate, http.MethodGet, "/api/v1/coupons/SUMMER25/validate?at=2026-09-01T00:00:00Z", "", "code", "SUMMER25")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[coupon.Validation](t, rec).Valid)
	})

	t.Run("Failure - Bad timestamp", func(t *testing.T) {
		rec := call(t, e.coupons.Validate, http.MethodGet, "/api/v1/coupons/SUMMER25/validate?at=yesterday", "", "code", "SUMMER25")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_time", errorCode(t, rec))
	})

	t.Run("Failure - Unknown coupon", func(t *testing.T) {
		rec := call(t, e.coupons.Validate, http.MethodGet, "/api/v1/coupons/NOPE/validate", "", "code", "NOPE")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
