// Command seed fills a database with a demo program: a three-level referral
// tree, tracking links, generated click traffic and a batch of conversions
// run through the full attribution and commission pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/affiliate-engine/config"
	"github.com/jordanlanch/affiliate-engine/pkg/affiliate"
	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/commission"
	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/database"
	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/jordanlanch/affiliate-engine/pkg/testdata"
	"github.com/shopspring/decimal"
)

func main() {
	affiliates := flag.Int("affiliates", 12, "affiliates to enroll")
	clicks := flag.Int("clicks", 200, "clicks per link")
	conversions := flag.Int("conversions", 40, "purchases to record")
	seed := flag.Int64("seed", 0, "faker seed (0 picks a random one)")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	gofakeit.Seed(*seed)

	db, err := database.NewClientWithSSL(cfg.DatabaseURL, &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, store.New(db), log, *affiliates, *clicks, *conversions); err != nil {
		log.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, st *store.Store, log logger.Logger, nAffiliates, nClicks, nConversions int) error {
	programs := affiliate.NewService(st, log)

	program, err := programs.CreateProgram(ctx, affiliate.ProgramInput{
		OwnerID:                gofakeit.UUID(),
		Name:                   gofakeit.Company() + " Partners",
		Currency:               "USD",
		CookieDays:             30,
		DefaultCommissionType:  models.CommissionTypePercent,
		DefaultCommissionValue: decimal.NewFromInt(20),
		MaxLevels:              3,
	})
	if err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	if _, err := programs.SetAttributionRule(ctx, &models.AttributionRule{
		ProgramID:  program.ID,
		Model:      models.ModelLastClick,
		WindowDays: 30,
	}); err != nil {
		return fmt.Errorf("set attribution rule: %w", err)
	}
	for level, pct := range map[int]int64{2: 5, 3: 2} {
		if _, err := programs.SetLevelRule(ctx, &models.LevelRule{
			ProgramID:       program.ID,
			Level:           level,
			CommissionType:  models.CommissionTypePercent,
			CommissionValue: decimal.NewFromInt(pct),
		}); err != nil {
			return fmt.Errorf("set level %d rule: %w", level, err)
		}
	}
	offer, err := programs.CreateOffer(ctx, program.ID, affiliate.OfferInput{Name: gofakeit.ProductName()})
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	// Each affiliate is recruited by a random earlier one, so the tree
	// grows three or more levels deep.
	var enrolled []*models.Affiliate
	var links []*models.Link
	for i := 0; i < nAffiliates; i++ {
		in := affiliate.AffiliateInput{
			ProgramID: program.ID,
			Email:     gofakeit.Email(),
			Name:      gofakeit.Name(),
		}
		if len(enrolled) > 0 {
			in.ReferredBy = enrolled[rand.Intn(len(enrolled))].ReferralCode
		}
		a, err := programs.CreateAffiliate(ctx, in)
		if err != nil {
			return fmt.Errorf("enroll affiliate: %w", err)
		}
		if a, err = programs.ApproveAffiliate(ctx, a.ID); err != nil {
			return fmt.Errorf("approve affiliate: %w", err)
		}
		enrolled = append(enrolled, a)

		l, err := programs.CreateLink(ctx, a.ID, offer.ID, "")
		if err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		links = append(links, l)
	}

	var generated []*models.Click
	for _, l := range links {
		generated = append(generated, testdata.GenerateClicks(l, testdata.TrafficConfig{
			Count:          nClicks,
			Visitors:       nClicks / 3,
			Spread:         7 * 24 * time.Hour,
			UTMChance:      0.4,
			ReferrerChance: 0.6,
		})...)
	}
	if err := testdata.BulkInsertClicks(ctx, st, generated, 500); err != nil {
		return err
	}
	log.Info("clicks generated", "links", len(links), "clicks", len(generated))

	screen := fraud.NewScreen(st, fraud.DefaultRules(), nil, log)
	commissions := commission.NewService(st, screen, commission.Config{HoldSeverity: commission.DefaultHoldSeverity})
	processor := conversion.NewProcessor(st,
		attribution.NewResolver(st, attribution.NewStoreIdentityResolver(st)),
		attribution.NewEngine(),
		commissions,
		conversion.WithScreen(screen),
		conversion.WithLogger(log),
	)

	var created int
	for i := 0; i < nConversions && len(generated) > 0; i++ {
		click := generated[rand.Intn(len(generated))]
		res, err := processor.OnConversionRecorded(ctx, &models.Conversion{
			ID:            gofakeit.UUID(),
			ProgramID:     program.ID,
			OfferID:       offer.ID,
			Type:          models.ConversionPurchase,
			Amount:        decimal.NewFromFloat(gofakeit.Price(19, 499)).Round(2),
			Currency:      "USD",
			CookieID:      click.CookieID,
			CustomerEmail: gofakeit.Email(),
			OrderID:       fmt.Sprintf("ORD-%06d", i+1),
			OccurredAt:    click.CreatedAt.Add(time.Duration(gofakeit.Number(10, 3600)) * time.Second),
		})
		if err != nil {
			return fmt.Errorf("record conversion: %w", err)
		}
		created += len(res.Commissions)
	}

	log.Info("seed complete",
		"program_id", program.ID,
		"affiliates", len(enrolled),
		"conversions", nConversions,
		"commissions", created,
	)
	return nil
}
