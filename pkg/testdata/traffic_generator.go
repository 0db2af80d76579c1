package testdata

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"golang.org/x/crypto/blake2b"
)

// TrafficConfig configures click generation
type TrafficConfig struct {
	Count          int
	Visitors       int           // distinct ip/ua pairs; 0 means every click is a new visitor
	Start          time.Time     // first click time; zero means now
	Spread         time.Duration // clicks are spread uniformly over [Start, Start+Spread]
	UTMChance      float64       // 0.0-1.0
	ReferrerChance float64
}

// visitor is a fake browser identity
type visitor struct {
	ip, ua, cookie string
}

func newVisitor() visitor {
	return visitor{ip: gofakeit.IPv4Address(), ua: gofakeit.UserAgent(), cookie: gofakeit.UUID()}
}

func fixtureHash(v string) string {
	sum := blake2b.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

var utmSources = []string{"newsletter", "youtube", "instagram", "blog", "podcast", "twitter"}

func generateClick(l *models.Link, v visitor, at time.Time, cfg TrafficConfig) *models.Click {
	c := &models.Click{
		ProgramID:   l.ProgramID,
		LinkID:      l.ID,
		AffiliateID: l.AffiliateID,
		OfferID:     l.OfferID,
		IPHash:      fixtureHash(v.ip),
		UAHash:      fixtureHash(v.ua),
		LandingURL:  fmt.Sprintf("https://%s/offer/%s", gofakeit.DomainName(), l.Code),
		SessionID:   gofakeit.UUID(),
		CookieID:    v.cookie,
		IsUnique:    true,
		CreatedAt:   store.Normalize(at),
	}
	if rand.Float64() < cfg.ReferrerChance {
		c.Referrer = gofakeit.URL()
	}
	if rand.Float64() < cfg.UTMChance {
		c.UTM = models.UTMData{
			Source:   utmSources[rand.Intn(len(utmSources))],
			Medium:   "affiliate",
			Campaign: gofakeit.BuzzWord(),
		}
	}
	return c
}

// GenerateClick creates a single unsaved click from a new visitor
func GenerateClick(l *models.Link, cfg TrafficConfig) *models.Click {
	at := cfg.Start
	if at.IsZero() {
		at = time.Now()
	}
	return generateClick(l, newVisitor(), at, cfg)
}

// GenerateClicks creates cfg.Count unsaved clicks through the link. Clicks
// from a returning visitor within 24h of its previous click are marked non-unique.
func GenerateClicks(l *models.Link, cfg TrafficConfig) []*models.Click {
	start := cfg.Start
	if start.IsZero() {
		start = time.Now().Add(-cfg.Spread)
	}
	pool := make([]visitor, cfg.Visitors)
	for i := range pool {
		pool[i] = newVisitor()
	}
	lastSeen := map[string]time.Time{}

	offsets := make([]time.Duration, cfg.Count)
	for i := range offsets {
		if cfg.Spread > 0 {
			offsets[i] = time.Duration(rand.Int63n(int64(cfg.Spread)))
		}
	}
	// keep generated clicks in time order so uniqueness is decided chronologically
	slices.Sort(offsets)

	clicks := make([]*models.Click, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		v := newVisitor()
		if len(pool) > 0 {
			v = pool[rand.Intn(len(pool))]
		}
		at := start.Add(offsets[i])
		c := generateClick(l, v, at, cfg)
		if prev, ok := lastSeen[v.ip+v.ua]; ok && at.Sub(prev) < 24*time.Hour {
			c.IsUnique = false
		}
		lastSeen[v.ip+v.ua] = at
		clicks[i] = c
	}
	return clicks
}

// BulkInsertClicks inserts clicks in batches, one transaction per batch,
// bumping each link's counter
func BulkInsertClicks(ctx context.Context, st *store.Store, clicks []*models.Click, batchSize int) error {
	for i := 0; i < len(clicks); i += batchSize {
		end := i + batchSize
		if end > len(clicks) {
			end = len(clicks)
		}

		batch := clicks[i:end]
		err := st.InTx(ctx, func(tx *store.Store) error {
			for _, c := range batch {
				if err := tx.InsertClick(ctx, c); err != nil {
					return err
				}
				if err := tx.IncrementLinkClicks(ctx, c.LinkID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to insert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}
