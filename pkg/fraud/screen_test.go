package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupScreen(t *testing.T, rules Rules) (*Screen, *store.Store) {
	st := testdata.NewStore(t)
	return NewScreen(st, rules, nil, nil), st
}

func TestFlag(t *testing.T) {
	screen, st := setupScreen(t, DefaultRules())
	ctx := context.Background()
	p := testdata.Program(t, st)
	a := testdata.Affiliate(t, st, p.ID, nil)

	t.Run("Success - Default severity", func(t *testing.T) {
		f, err := screen.Flag(ctx, FlagInput{
			AffiliateID:  a.ID,
			Type:         models.FraudVPNDetected,
			Reason:       "exit node",
			ConversionID: "conv-1",
		})

		require.NoError(t, err)
		assert.Equal(t, models.DefaultFraudSeverity, f.Severity)
		assert.False(t, f.Reviewed)
		require.NotNil(t, f.ConversionID)
		assert.Equal(t, "conv-1", *f.ConversionID)
		assert.Nil(t, f.ClickID)
	})

	t.Run("Failure - Severity out of range", func(t *testing.T) {
		_, err := screen.Flag(ctx, FlagInput{AffiliateID: a.ID, Type: models.FraudOther, Reason: "x", Severity: 11})
		require.Error(t, err)
	})

	t.Run("Failure - Unknown type", func(t *testing.T) {
		_, err := screen.Flag(ctx, FlagInput{AffiliateID: a.ID, Type: "bot", Reason: "x"})
		require.Error(t, err)
	})

	t.Run("Success - Dedupe key returns the existing flag", func(t *testing.T) {
		in := FlagInput{AffiliateID: a.ID, Type: models.FraudOther, Reason: "manual", Severity: 3, DedupeKey: "manual:1"}
		first, err := screen.Flag(ctx, in)
		require.NoError(t, err)
		second, err := screen.Flag(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestMarkReviewed(t *testing.T) {
	screen, st := setupScreen(t, DefaultRules())
	ctx := context.Background()
	p := testdata.Program(t, st)
	a := testdata.Affiliate(t, st, p.ID, nil)

	f, err := screen.Flag(ctx, FlagInput{AffiliateID: a.ID, Type: models.FraudOther, Reason: "check", Severity: 8})
	require.NoError(t, err)

	t.Run("Success - First review", func(t *testing.T) {
		reviewed, err := screen.MarkReviewed(ctx, f.ID, "analyst-1")

		require.NoError(t, err)
		assert.True(t, reviewed.Reviewed)
		require.NotNil(t, reviewed.ReviewedBy)
		assert.Equal(t, "analyst-1", *reviewed.ReviewedBy)
		assert.NotNil(t, reviewed.ReviewedAt)
	})

	t.Run("Success - Second review is a no-op", func(t *testing.T) {
		reviewed, err := screen.MarkReviewed(ctx, f.ID, "analyst-2")

		require.NoError(t, err)
		assert.Equal(t, "analyst-1", *reviewed.ReviewedBy)
	})

	t.Run("Failure - Unknown flag", func(t *testing.T) {
		_, err := screen.MarkReviewed(ctx, "missing", "analyst-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestScreenClick(t *testing.T) {
	screen, st := setupScreen(t, Rules{RapidClickThreshold: 3, RapidClickWindow: time.Minute})
	ctx := context.Background()
	p := testdata.Program(t, st)
	a := testdata.Affiliate(t, st, p.ID, nil)
	l := testdata.Link(t, st, a, testdata.Offer(t, st, p.ID))
	now := time.Now()

	t.Run("Success - Unique click raises nothing", func(t *testing.T) {
		c := testdata.Click(t, st, l, "cookie-a", now)

		flags, err := screen.ScreenClick(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, flags)
	})

	t.Run("Success - Repeat click is flagged as duplicate ip", func(t *testing.T) {
		c := testdata.GenerateClick(l, testdata.TrafficConfig{Start: now})
		c.IsUnique = false
		require.NoError(t, st.InsertClick(ctx, c))

		flags, err := screen.ScreenClick(ctx, c)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, models.FraudDuplicateIP, flags[0].Type)
		assert.Equal(t, SeverityDuplicateIP, flags[0].Severity)
	})

	t.Run("Success - Burst from one address is flagged once per click", func(t *testing.T) {
		var last *models.Click
		for i := 0; i < 3; i++ {
			c := testdata.GenerateClick(l, testdata.TrafficConfig{Start: now.Add(time.Duration(i) * time.Second)})
			c.IPHash = "burst-ip"
			require.NoError(t, st.InsertClick(ctx, c))
			last = c
		}

		flags, err := screen.ScreenClick(ctx, last)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, models.FraudRapidClicks, flags[0].Type)
		assert.Equal(t, "3", flags[0].Meta["clicks"])

		again, err := screen.ScreenClick(ctx, last)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, flags[0].ID, again[0].ID)

		all, err := screen.ListForAffiliate(ctx, a.ID, true)
		require.NoError(t, err)
		rapid := 0
		for _, f := range all {
			if f.Type == models.FraudRapidClicks {
				rapid++
			}
		}
		assert.Equal(t, 1, rapid)
	})
}

func TestScreenConversion(t *testing.T) {
	screen, st := setupScreen(t, DefaultRules())
	ctx := context.Background()
	p := testdata.Program(t, st)
	a := testdata.Affiliate(t, st, p.ID, nil)
	l := testdata.Link(t, st, a, testdata.Offer(t, st, p.ID))
	clickAt := time.Now().Add(-time.Hour)
	c := testdata.Click(t, st, l, "cookie-b", clickAt)

	t.Run("Success - Ordinary conversion raises nothing", func(t *testing.T) {
		conv := testdata.Purchase(p.ID, "cookie-b", 100, clickAt.Add(30*time.Minute))

		flags, err := screen.ScreenConversion(ctx, conv, []*models.Click{c})
		require.NoError(t, err)
		assert.Empty(t, flags)
	})

	t.Run("Success - Affiliate buying through own link", func(t *testing.T) {
		conv := testdata.Purchase(p.ID, "cookie-b", 100, clickAt.Add(30*time.Minute))
		conv.CustomerEmail = " " + a.Email + " "

		flags, err := screen.ScreenConversion(ctx, conv, []*models.Click{c, c})
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, models.FraudSelfReferral, flags[0].Type)
		assert.Equal(t, SeveritySelfReferral, flags[0].Severity)
		require.NotNil(t, flags[0].ConversionID)
		assert.Equal(t, conv.ID, *flags[0].ConversionID)
	})

	t.Run("Success - Conversion seconds after the click", func(t *testing.T) {
		conv := testdata.Purchase(p.ID, "cookie-b", 100, c.CreatedAt.Add(2*time.Second))

		flags, err := screen.ScreenConversion(ctx, conv, []*models.Click{c})
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, models.FraudSuspiciousPattern, flags[0].Type)

		found, err := screen.FlagsFor(ctx, nil, conv.ID)
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})
}
