package testdata

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Program creates an active USD program with a 10% default commission
func Program(t testing.TB, st *store.Store, mutate ...func(*models.Program)) *models.Program {
	t.Helper()
	p := &models.Program{
		OwnerID:                gofakeit.UUID(),
		Name:                   gofakeit.Company() + " Partners",
		Currency:               "USD",
		CookieDays:             30,
		DefaultCommissionType:  models.CommissionTypePercent,
		DefaultCommissionValue: decimal.NewFromInt(10),
		MaxLevels:              models.DefaultMaxLevels,
		Status:                 models.ProgramStatusActive,
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, st.CreateProgram(context.Background(), p))
	return p
}

// AttributionRule stores the program's attribution rule
func AttributionRule(t testing.TB, st *store.Store, programID string, model models.AttributionModel, windowDays int) *models.AttributionRule {
	t.Helper()
	r := &models.AttributionRule{ProgramID: programID, Model: model, WindowDays: windowDays}
	require.NoError(t, st.UpsertAttributionRule(context.Background(), r))
	return r
}

// LevelRule stores a percent level rule
func LevelRule(t testing.TB, st *store.Store, programID string, level int, percent int64, mutate ...func(*models.LevelRule)) *models.LevelRule {
	t.Helper()
	r := &models.LevelRule{
		ProgramID:       programID,
		Level:           level,
		CommissionType:  models.CommissionTypePercent,
		CommissionValue: decimal.NewFromInt(percent),
	}
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, st.UpsertLevelRule(context.Background(), r))
	return r
}

// Offer creates an active offer without a commission override
func Offer(t testing.TB, st *store.Store, programID string, mutate ...func(*models.Offer)) *models.Offer {
	t.Helper()
	o := &models.Offer{ProgramID: programID, Name: gofakeit.ProductName(), IsActive: true}
	for _, m := range mutate {
		m(o)
	}
	require.NoError(t, st.CreateOffer(context.Background(), o))
	return o
}

// Affiliate creates an approved affiliate, optionally referred by parent
func Affiliate(t testing.TB, st *store.Store, programID string, parent *models.Affiliate) *models.Affiliate {
	t.Helper()
	now := store.Now()
	a := &models.Affiliate{
		ProgramID:    programID,
		Email:        strings.ToLower(gofakeit.Email()),
		Name:         gofakeit.Name(),
		ReferralCode: strings.ToUpper(gofakeit.LetterN(10)),
		Status:       models.AffiliateStatusApproved,
		ApprovedAt:   &now,
	}
	if parent != nil {
		a.ParentID = &parent.ID
	}
	require.NoError(t, st.CreateAffiliate(context.Background(), a))
	return a
}

// Link creates a tracking link for the affiliate and offer
func Link(t testing.TB, st *store.Store, a *models.Affiliate, o *models.Offer) *models.Link {
	t.Helper()
	l := &models.Link{AffiliateID: a.ID, OfferID: o.ID, ProgramID: a.ProgramID, Code: strings.ToLower(gofakeit.LetterN(12))}
	require.NoError(t, st.CreateLink(context.Background(), l))
	return l
}

// Click stores a click through the link for the cookie at the given time
func Click(t testing.TB, st *store.Store, l *models.Link, cookieID string, at time.Time) *models.Click {
	t.Helper()
	c := GenerateClick(l, TrafficConfig{})
	c.CookieID = cookieID
	c.CreatedAt = store.Normalize(at)
	require.NoError(t, st.InsertClick(context.Background(), c))
	return c
}

// Purchase builds an unsaved purchase conversion for the cookie
func Purchase(programID, cookieID string, amount float64, at time.Time) *models.Conversion {
	return &models.Conversion{
		ID:            "conv_" + gofakeit.UUID(),
		ProgramID:     programID,
		Type:          models.ConversionPurchase,
		Amount:        decimal.NewFromFloat(amount),
		Currency:      "USD",
		CookieID:      cookieID,
		CustomerEmail: strings.ToLower(gofakeit.Email()),
		OrderID:       gofakeit.Numerify("ORD-######"),
		OccurredAt:    store.Normalize(at),
	}
}

// Commission stores an approved level-1 commission for the affiliate
func Commission(t testing.TB, st *store.Store, a *models.Affiliate, amount float64, at time.Time, mutate ...func(*models.Commission)) *models.Commission {
	t.Helper()
	approved := store.Normalize(at)
	c := &models.Commission{
		ProgramID:    a.ProgramID,
		ConversionID: "conv_" + gofakeit.UUID(),
		AffiliateID:  a.ID,
		ClickID:      store.NewID(),
		Level:        1,
		Weight:       1,
		BaseAmount:   decimal.NewFromFloat(amount * 10),
		Amount:       decimal.NewFromFloat(amount),
		Currency:     "USD",
		Status:       models.CommissionApproved,
		ApprovedAt:   &approved,
		CreatedAt:    approved,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, st.InsertCommission(context.Background(), c))
	return c
}
