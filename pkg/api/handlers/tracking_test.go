package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/jordanlanch/affiliate-engine/pkg/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingHandler_RecordClick(t *testing.T) {
	e := setupHandlers(t)
	ctx := context.Background()
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	link := testdata.Link(t, e.st, aff, e.offer)

	body := fmt.Sprintf(`{"code":%q,"ip":"203.0.113.10","user_agent":"Mozilla/5.0","cookie_id":"cookie-1","utm":{"utm_source":"newsletter"}}`, link.Code)

	t.Run("Success - First click is unique", func(t *testing.T) {
		rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode[ClickResponse](t, rec)
		assert.True(t, resp.IsUnique)
		assert.Equal(t, aff.ID, resp.AffiliateID)

		click, err := e.st.GetClick(ctx, resp.ClickID)
		require.NoError(t, err)
		ipHash, uaHash, err := tracking.HashVisitor(visitorSecret, "203.0.113.10", "Mozilla/5.0")
		require.NoError(t, err)
		assert.Equal(t, ipHash, click.IPHash)
		assert.Equal(t, uaHash, click.UAHash)
		assert.NotContains(t, click.IPHash, "203.0.113.10")
		assert.Equal(t, "newsletter", click.UTM.Source)
		assert.Equal(t, "cookie-1", click.CookieID)
	})

	t.Run("Success - Repeat click is not unique", func(t *testing.T) {
		rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.False(t, decode[ClickResponse](t, rec).IsUnique)

		stored, err := e.st.GetLinkByCode(ctx, link.Code)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.ClicksCount)
	})

	t.Run("Failure - Unknown code", func(t *testing.T) {
		rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", `{"code":"nope"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Failure - Missing code", func(t *testing.T) {
		rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", `{"ip":"203.0.113.10"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("Failure - Malformed ip", func(t *testing.T) {
		rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", fmt.Sprintf(`{"code":%q,"ip":"not-an-ip"}`, link.Code))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTrackingHandler_FallsBackToConnection(t *testing.T) {
	e := setupHandlers(t)
	aff := testdata.Affiliate(t, e.st, e.program.ID, nil)
	link := testdata.Link(t, e.st, aff, e.offer)

	rec := call(t, e.tracking.RecordClick, http.MethodPost, "/api/v1/clicks", fmt.Sprintf(`{"code":%q}`, link.Code))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	click, err := e.st.GetClick(context.Background(), decode[ClickResponse](t, rec).ClickID)
	require.NoError(t, err)
	// httptest requests come from 192.0.2.1
	ipHash, _, err := tracking.HashVisitor(visitorSecret, "192.0.2.1", "")
	require.NoError(t, err)
	assert.Equal(t, ipHash, click.IPHash)
}
