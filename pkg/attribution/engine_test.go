package attribution

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var occurred = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func click(id string, before time.Duration) *models.Click {
	return &models.Click{ID: id, AffiliateID: "aff-" + id, CreatedAt: occurred.Add(-before)}
}

func conversion() *models.Conversion {
	return &models.Conversion{ID: "conv-1", Type: models.ConversionPurchase, OccurredAt: occurred}
}

func rule(model models.AttributionModel, windowDays int) *models.AttributionRule {
	return &models.AttributionRule{Model: model, WindowDays: windowDays}
}

func sumWeights(credits []Credit) float64 {
	var total float64
	for _, c := range credits {
		total += c.Weight
	}
	return total
}

func ids(credits []Credit) []string {
	out := make([]string, len(credits))
	for i, c := range credits {
		out[i] = c.Click.ID
	}
	return out
}

func TestInWindow(t *testing.T) {
	day := 24 * time.Hour
	clicks := []*models.Click{
		click("outside", 8*day),
		click("edge", 7*day),
		click("inside", 3*day),
		click("at-conversion", 0),
		{ID: "after", CreatedAt: occurred.Add(time.Second)},
	}

	got := InWindow(conversion(), clicks, rule(models.ModelLinear, 7))

	assert.Equal(t, []string{"edge", "inside", "at-conversion"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Len(t, got, 3)
}

func TestAttribute(t *testing.T) {
	engine := NewEngine()
	day := 24 * time.Hour

	t.Run("No clicks in window is unattributed", func(t *testing.T) {
		credits := engine.Attribute(conversion(), []*models.Click{click("old", 40*day)}, rule(models.ModelLastClick, 30))
		assert.Empty(t, credits)
	})

	t.Run("Click outside the window gets nothing", func(t *testing.T) {
		clicks := []*models.Click{click("a", 10*day), click("b", 2*day)}

		credits := engine.Attribute(conversion(), clicks, rule(models.ModelFirstClick, 7))

		require.Len(t, credits, 1)
		assert.Equal(t, "b", credits[0].Click.ID)
	})

	t.Run("First and last click ignore input order", func(t *testing.T) {
		clicks := []*models.Click{click("c2", 2*day), click("c1", 3*day), click("c3", day)}
		reversed := slices.Clone(clicks)
		slices.Reverse(reversed)

		for _, input := range [][]*models.Click{clicks, reversed} {
			first := engine.Attribute(conversion(), input, rule(models.ModelFirstClick, 30))
			last := engine.Attribute(conversion(), input, rule(models.ModelLastClick, 30))

			require.Len(t, first, 1)
			require.Len(t, last, 1)
			assert.Equal(t, "c1", first[0].Click.ID)
			assert.Equal(t, "c3", last[0].Click.ID)
			assert.Equal(t, 1.0, first[0].Weight)
			assert.Equal(t, 1.0, last[0].Weight)
		}
	})

	t.Run("Ties on time go to the lower id", func(t *testing.T) {
		clicks := []*models.Click{click("b", day), click("c", day), click("a", day)}

		first := engine.Attribute(conversion(), clicks, rule(models.ModelFirstClick, 30))
		last := engine.Attribute(conversion(), clicks, rule(models.ModelLastClick, 30))

		assert.Equal(t, "a", first[0].Click.ID)
		assert.Equal(t, "a", last[0].Click.ID)
	})

	t.Run("Linear splits evenly", func(t *testing.T) {
		clicks := []*models.Click{click("x", 3*day), click("y", 2*day), click("z", day)}

		credits := engine.Attribute(conversion(), clicks, rule(models.ModelLinear, 30))

		require.Len(t, credits, 3)
		assert.Equal(t, []string{"x", "y", "z"}, ids(credits))
		for _, c := range credits {
			assert.InDelta(t, 1.0/3.0, c.Weight, 1e-12)
		}
		assert.InDelta(t, 1.0, sumWeights(credits), 1e-9)
	})

	t.Run("Time decay halves weight per half-life", func(t *testing.T) {
		r := rule(models.ModelTimeDecay, 30)
		r.TimeDecay = &models.TimeDecayParams{HalfLifeDays: 7}
		clicks := []*models.Click{click("old", 7*day), click("new", 0)}

		credits := engine.Attribute(conversion(), clicks, r)

		require.Len(t, credits, 2)
		assert.InDelta(t, 0.5, credits[0].Weight/credits[1].Weight, 1e-9)
		assert.InDelta(t, 1.0/3.0, credits[0].Weight, 1e-9)
		assert.InDelta(t, 2.0/3.0, credits[1].Weight, 1e-9)
	})

	t.Run("Time decay uses the default half-life", func(t *testing.T) {
		clicks := []*models.Click{click("old", 14*day), click("new", 0)}

		credits := engine.Attribute(conversion(), clicks, rule(models.ModelTimeDecay, 30))

		require.Len(t, credits, 2)
		assert.InDelta(t, 0.25, credits[0].Weight/credits[1].Weight, 1e-9)
	})

	t.Run("Time decay with clicks many half-lives old", func(t *testing.T) {
		r := rule(models.ModelTimeDecay, 30)
		r.TimeDecay = &models.TimeDecayParams{HalfLifeDays: 0.01}
		clicks := []*models.Click{click("older", 25*day), click("old", 20*day)}

		credits := engine.Attribute(conversion(), clicks, r)

		require.Len(t, credits, 2)
		for _, c := range credits {
			assert.False(t, math.IsNaN(c.Weight))
			assert.False(t, math.IsInf(c.Weight, 0))
		}
		assert.Equal(t, []string{"older", "old"}, ids(credits))
		assert.InDelta(t, 0.0, credits[0].Weight, 1e-9)
		assert.InDelta(t, 1.0, credits[1].Weight, 1e-9)
		assert.InDelta(t, 1.0, sumWeights(credits), 1e-9)
	})

	t.Run("Weights always sum to one", func(t *testing.T) {
		var clicks []*models.Click
		for i := 0; i < 17; i++ {
			clicks = append(clicks, click(string(rune('a'+i)), time.Duration(i)*7*time.Hour))
		}
		for _, m := range []models.AttributionModel{models.ModelFirstClick, models.ModelLastClick, models.ModelLinear, models.ModelTimeDecay} {
			credits := engine.Attribute(conversion(), clicks, rule(m, 30))
			assert.InDelta(t, 1.0, sumWeights(credits), 1e-9, string(m))
		}
	})
}
