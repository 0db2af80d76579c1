package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	ClicksRecorded     *prometheus.CounterVec
	ConversionsHandled *prometheus.CounterVec
	CommissionsCreated *prometheus.CounterVec
	CommissionAmount   *prometheus.CounterVec
	FraudFlagsRaised   *prometheus.CounterVec
	PayoutTransitions  *prometheus.CounterVec
	HeldReleased       prometheus.Counter
	CouponsRedeemed    *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	DedupeLookups *prometheus.CounterVec
}

// New creates a Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		ClicksRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_clicks_recorded_total",
				Help: "Total number of tracked clicks",
			},
			[]string{"unique"}, // true, false
		),
		ConversionsHandled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_conversions_total",
				Help: "Conversions processed by outcome",
			},
			[]string{"outcome"}, // attributed, unattributed, not_commissionable, unconfigured
		),
		CommissionsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_commissions_created_total",
				Help: "Commissions created by level and status",
			},
			[]string{"level", "status", "held"},
		),
		CommissionAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_commission_amount_total",
				Help: "Sum of created commission amounts",
			},
			[]string{"currency"},
		),
		FraudFlagsRaised: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_fraud_flags_total",
				Help: "Fraud flags raised by type",
			},
			[]string{"type"},
		),
		PayoutTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_payout_transitions_total",
				Help: "Payout status changes by target status",
			},
			[]string{"status"},
		),
		HeldReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "affiliate_held_commissions_released_total",
			Help: "Held commissions approved after review",
		}),
		CouponsRedeemed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_coupon_redemptions_total",
				Help: "Coupon redemptions by result",
			},
			[]string{"result"}, // redeemed, rejected
		),

		DBConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),

		DedupeLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_dedupe_lookups_total",
				Help: "Click uniqueness lookups by backend and result",
			},
			[]string{"backend", "result"}, // redis|store, unique|repeat
		),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/payouts/:id

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// RecordClick increments the clicks counter
func (m *Metrics) RecordClick(unique bool) {
	if m == nil {
		return
	}
	m.ClicksRecorded.WithLabelValues(strconv.FormatBool(unique)).Inc()
}

// RecordConversion increments the conversions counter for an outcome
func (m *Metrics) RecordConversion(outcome string) {
	if m == nil {
		return
	}
	m.ConversionsHandled.WithLabelValues(outcome).Inc()
}

// RecordCommission counts a newly created commission
func (m *Metrics) RecordCommission(level int, status string, held bool, currency string, amount float64) {
	if m == nil {
		return
	}
	m.CommissionsCreated.WithLabelValues(strconv.Itoa(level), status, strconv.FormatBool(held)).Inc()
	m.CommissionAmount.WithLabelValues(currency).Add(amount)
}

// RecordFraudFlag increments the fraud flags counter
func (m *Metrics) RecordFraudFlag(flagType string) {
	if m == nil {
		return
	}
	m.FraudFlagsRaised.WithLabelValues(flagType).Inc()
}

// RecordPayoutTransition counts a payout reaching status
func (m *Metrics) RecordPayoutTransition(status string) {
	if m == nil {
		return
	}
	m.PayoutTransitions.WithLabelValues(status).Inc()
}

// RecordReleased adds n released commissions
func (m *Metrics) RecordReleased(n int) {
	if m == nil || n == 0 {
		return
	}
	m.HeldReleased.Add(float64(n))
}

// RecordCouponRedemption counts a coupon redemption attempt
func (m *Metrics) RecordCouponRedemption(ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "redeemed"
	}
	m.CouponsRedeemed.WithLabelValues(result).Inc()
}

// RecordDedupe counts a click uniqueness lookup
func (m *Metrics) RecordDedupe(backend string, unique bool) {
	if m == nil {
		return
	}
	result := "repeat"
	if unique {
		result = "unique"
	}
	m.DedupeLookups.WithLabelValues(backend, result).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	if m == nil {
		return
	}
	m.DBConnections.Set(count)
}
