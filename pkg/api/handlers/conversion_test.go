package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchaseBody(id, programID, cookie string, amount string) string {
	return fmt.Sprintf(`{"id":%q,"program_id":%q,"type":"purchase","amount":%q,"cookie_id":%q,"customer_email":"buyer@example.com"}`,
		id, programID, amount, cookie)
}

func TestConversionHandler_Record(t *testing.T) {
	e := setupHandlers(t)
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
	testdata.LevelRule(t, e.st, e.program.ID, 1, 10)

	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	testdata.Click(t, e.st, testdata.Link(t, e.st, aff, e.offer), "cookie-1", time.Now().Add(-time.Hour))

	body := purchaseBody("order-1001", e.program.ID, "cookie-1", "80.00")

	t.Run("Success - Attributed purchase", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		res := decode[conversion.Result](t, rec)
		assert.Equal(t, conversion.OutcomeAttributed, res.Outcome)
		require.Len(t, res.Commissions, 1)
		assert.Equal(t, aff.ID, res.Commissions[0].AffiliateID)
		assert.Equal(t, "8.00", res.Commissions[0].Amount.StringFixed(2))
	})

	t.Run("Success - Replay returns the stored result", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions", body)
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[conversion.Result](t, rec)
		assert.True(t, res.Duplicate)
		assert.Len(t, res.Commissions, 1)
	})

	t.Run("Success - Unknown visitor is unattributed", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
			purchaseBody("order-1002", e.program.ID, "stranger", "10"))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, conversion.OutcomeUnattributed, decode[conversion.Result](t, rec).Outcome)
	})

	t.Run("Failure - Refunds are not accepted as conversions", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
			fmt.Sprintf(`{"id":"r1","program_id":%q,"type":"refund","amount":"5"}`, e.program.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Failure - Negative amount", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
			purchaseBody("order-1003", e.program.ID, "cookie-1", "-1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_amount", errorCode(t, rec))
	})

	t.Run("Failure - Unknown program", func(t *testing.T) {
		rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
			purchaseBody("order-1004", "missing", "cookie-1", "10"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestConversionHandler_Unconfigured(t *testing.T) {
	e := setupHandlers(t)

	rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
		purchaseBody("order-2001", e.program.ID, "cookie-1", "10"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, conversion.OutcomeUnconfigured, decode[conversion.Result](t, rec).Outcome)
}

func TestConversionHandler_Refund(t *testing.T) {
	e := setupHandlers(t)
	testdata.AttributionRule(t, e.st, e.program.ID, models.ModelLastClick, 30)
	testdata.LevelRule(t, e.st, e.program.ID, 1, 10)
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	testdata.Click(t, e.st, testdata.Link(t, e.st, aff, e.offer), "cookie-1", time.Now().Add(-time.Hour))

	rec := call(t, e.conversions.Record, http.MethodPost, "/api/v1/conversions",
		purchaseBody("order-3001", e.program.ID, "cookie-1", "50"))
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("Failure - More than the sale", func(t *testing.T) {
		rec := call(t, e.conversions.Refund, http.MethodPost, "/api/v1/conversions/order-3001/refund",
			`{"amount":"500"}`, "id", "order-3001")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "not_refundable", errorCode(t, rec))
	})

	t.Run("Success - Full refund voids the commission", func(t *testing.T) {
		rec := call(t, e.conversions.Refund, http.MethodPost, "/api/v1/conversions/order-3001/refund",
			`{"reason":"chargeback"}`, "id", "order-3001")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		res := decode[conversion.RefundResult](t, rec)
		assert.Equal(t, 1, res.Voided)
		assert.True(t, res.Refund.Amount.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, models.ConversionRefund, res.Refund.Type)
	})

	t.Run("Failure - Unknown conversion", func(t *testing.T) {
		rec := call(t, e.conversions.Refund, http.MethodPost, "/api/v1/conversions/missing/refund", `{}`, "id", "missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
