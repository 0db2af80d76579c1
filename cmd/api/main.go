package main

// @title Affiliate Engine API
// @version 1.0
// @description Click tracking, attribution, multi-level commissions and payouts.

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and a service token.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/affiliate-engine/config"
	"github.com/jordanlanch/affiliate-engine/pkg/affiliate"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/api/handlers"
	custommw "github.com/jordanlanch/affiliate-engine/pkg/api/middleware"
	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/auth"
	"github.com/jordanlanch/affiliate-engine/pkg/cache"
	"github.com/jordanlanch/affiliate-engine/pkg/commission"
	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/database"
	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/jobs"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	custommiddleware "github.com/jordanlanch/affiliate-engine/pkg/middleware"
	"github.com/jordanlanch/affiliate-engine/pkg/payout"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/jordanlanch/affiliate-engine/pkg/tracking"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	apierrors.SetLogger(log)
	log.Info("configuration loaded", "environment", cfg.APIEnvironment)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	}

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
	st := store.New(db)

	// Redis is optional: without it clicks are deduplicated through the
	// click table and tokens cannot be revoked.
	var (
		redisClient *cache.Client
		cachePinger handlers.Pinger
		blacklist   *auth.TokenBlacklist
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cachePinger = redisClient
		blacklist = auth.NewTokenBlacklist(redisClient)
	} else {
		log.Warn("redis disabled, click uniqueness falls back to the database")
	}

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		log.Error("failed to configure export storage", "error", err)
		os.Exit(1)
	}

	// Engine services
	screen := fraud.NewScreen(st, fraud.Rules{
		RapidClickThreshold:  cfg.RapidClickThreshold,
		RapidClickWindow:     time.Minute,
		MinClickToConversion: cfg.MinClickToConversion,
	}, m, log.With("component", "fraud"))

	trackingOpts := []tracking.Option{
		tracking.WithScreen(screen),
		tracking.WithMetrics(m),
		tracking.WithLogger(log.With("component", "tracking")),
	}
	if redisClient != nil {
		trackingOpts = append(trackingOpts, tracking.WithGuard(cache.NewClickDeduper(redisClient, tracking.UniqueWindow)))
	}
	trackingService := tracking.NewService(st, trackingOpts...)

	commissionService := commission.NewService(st, screen, commission.Config{
		HoldSeverity:           cfg.FraudHoldSeverity,
		StopOnUnqualifiedLevel: cfg.StopOnUnqualifiedLevel,
	}, commission.WithMetrics(m), commission.WithLogger(log.With("component", "commission")))

	couponService := coupon.NewService(st, m, log.With("component", "coupon"))
	affiliateService := affiliate.NewService(st, log.With("component", "affiliate"))

	resolver := attribution.NewResolver(st, attribution.NewStoreIdentityResolver(st))
	processor := conversion.NewProcessor(st, resolver, attribution.NewEngine(), commissionService,
		conversion.WithScreen(screen),
		conversion.WithCoupons(couponService),
		conversion.WithMetrics(m),
		conversion.WithLogger(log.With("component", "conversion")),
	)

	payoutOpts := []payout.Option{payout.WithMetrics(m), payout.WithLogger(log.With("component", "payout"))}
	if objects != nil {
		payoutOpts = append(payoutOpts, payout.WithObjectStore(objects))
	}
	payoutService := payout.NewService(st, payoutOpts...)

	// Scheduled jobs
	var cronManager *jobs.CronManager
	if cfg.JobsEnabled {
		jobOpts := []jobs.Option{jobs.WithLogger(log.With("component", "jobs"))}
		if redisClient != nil {
			jobOpts = append(jobOpts, jobs.WithLocker(jobs.NewRedisLocker(redisClient)))
		}
		cronManager = jobs.NewCronManager(commissionService, payoutService, jobOpts...)
		if err := cronManager.SetupJobs(jobs.Schedules{
			ReleaseHeld: cfg.ReleaseHeldSchedule,
			PayoutBatch: cfg.PayoutBatchSchedule,
		}); err != nil {
			log.Error("failed to configure jobs", "error", err)
			os.Exit(1)
		}
		cronManager.Start()
	}

	e := newServer(cfg, log, m)

	healthHandler := handlers.NewHealthHandler(db, cachePinger)
	e.GET("/health", healthHandler.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	trackingHandler := handlers.NewTrackingHandler(trackingService, cfg.VisitorHashSecret)
	conversionHandler := handlers.NewConversionHandler(processor)
	commissionHandler := handlers.NewCommissionHandler(commissionService)
	fraudHandler := handlers.NewFraudHandler(screen)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	couponHandler := handlers.NewCouponHandler(couponService)
	affiliateHandler := handlers.NewAffiliateHandler(affiliateService)

	v1 := e.Group("/api/v1")

	// Click ingestion is public and rate limited per client ip
	clickLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	go clickLimiter.Run(ctx, time.Minute)
	v1.POST("/clicks", trackingHandler.RecordClick, clickLimiter.RateLimitMiddleware())

	authed := v1.Group("", custommw.JWTMiddleware(custommw.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Blacklist: blacklist,
	}))

	track := authed.Group("", custommw.RequireScope(auth.ScopeTrack))
	{
		track.POST("/conversions", conversionHandler.Record)
		track.POST("/conversions/:id/refund", conversionHandler.Refund)
		track.GET("/coupons/:code/validate", couponHandler.Validate)
	}

	manage := authed.Group("", custommw.RequireScope(auth.ScopeManage))
	{
		manage.POST("/programs", affiliateHandler.CreateProgram)
		manage.PUT("/programs/:id/attribution", affiliateHandler.SetAttributionRule)
		manage.PUT("/programs/:id/levels/:level", affiliateHandler.SetLevelRule)
		manage.POST("/programs/:id/offers", affiliateHandler.CreateOffer)

		manage.POST("/affiliates", affiliateHandler.CreateAffiliate)
		manage.POST("/affiliates/:id/approve", affiliateHandler.Approve)
		manage.POST("/affiliates/:id/block", affiliateHandler.Block)
		manage.POST("/affiliates/:id/links", affiliateHandler.CreateLink)
		manage.GET("/affiliates/:id/referrals", affiliateHandler.ReferralChain)
		manage.GET("/affiliates/:id/stats", affiliateHandler.Stats)
		manage.GET("/affiliates/:id/commissions", commissionHandler.ListForAffiliate)
		manage.GET("/affiliates/:id/summary", commissionHandler.Summary)
		manage.GET("/affiliates/:id/fraud/flags", fraudHandler.ListForAffiliate)

		manage.POST("/commissions/:id/approve", commissionHandler.Approve)
		manage.POST("/commissions/:id/void", commissionHandler.Void)
		manage.POST("/commissions/release-held", commissionHandler.ReleaseHeld)

		manage.POST("/fraud/flags", fraudHandler.Flag)
		manage.POST("/fraud/flags/:id/review", fraudHandler.Review)

		manage.POST("/coupons", couponHandler.Create)
	}

	payouts := authed.Group("", custommw.RequireScope(auth.ScopePayout))
	{
		payouts.POST("/payouts", payoutHandler.Create)
		payouts.GET("/payouts/:id", payoutHandler.Get)
		payouts.GET("/affiliates/:id/payouts", payoutHandler.ListForAffiliate)
		payouts.POST("/payouts/:id/processing", payoutHandler.MarkProcessing)
		payouts.POST("/payouts/:id/complete", payoutHandler.Complete)
		payouts.POST("/payouts/:id/fail", payoutHandler.Fail)
		payouts.GET("/payouts/:id/export", payoutHandler.Export)
		payouts.POST("/payouts/:id/publish", payoutHandler.Publish)
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateDBConnections(float64(db.Stats().OpenConnections))
			}
		}
	}()

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	go func() {
		log.Info("affiliate engine starting", "address", address,
			"rate_limit_rpm", cfg.RateLimitRequestsPerMinute, "jobs", cfg.JobsEnabled)
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cronManager != nil {
		cronManager.Stop(shutdownCtx)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}

func newServer(cfg *config.Config, log logger.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				log.Error("request", append(args, "error", v.Error)...)
				return nil
			}
			log.Debug("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(m.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders())
	e.Use(middleware.Gzip())
	return e
}

// newObjectStore returns nil when exports are not published anywhere
func newObjectStore(ctx context.Context, cfg *config.Config) (payout.ObjectStore, error) {
	switch cfg.StorageType {
	case "s3":
		return payout.NewS3Store(ctx, payout.S3Config{
			AWSAccessKeyID:     cfg.AWSAccessKeyID,
			AWSSecretAccessKey: cfg.AWSSecretAccessKey,
			AWSRegion:          cfg.AWSRegion,
			Bucket:             cfg.S3Bucket,
		})
	case "local":
		return payout.NewLocalStore(cfg.StorageLocalPath)
	case "", "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
}
