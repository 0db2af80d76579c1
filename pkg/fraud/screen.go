package fraud

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
)

// Heuristic severities
const (
	SeverityRapidClicks       = 7
	SeverityDuplicateIP       = 2
	SeveritySelfReferral      = 9
	SeveritySuspiciousPattern = 7
)

// Rules configures the automatic screening heuristics
type Rules struct {
	RapidClickThreshold  int           // clicks from one ip for one affiliate inside RapidClickWindow; 0 disables
	RapidClickWindow     time.Duration
	MinClickToConversion time.Duration // faster conversions are suspicious; 0 disables
}

// DefaultRules returns the stock heuristics
func DefaultRules() Rules {
	return Rules{
		RapidClickThreshold:  10,
		RapidClickWindow:     time.Minute,
		MinClickToConversion: 5 * time.Second,
	}
}

// FlagInput holds data for raising a fraud flag
type FlagInput struct {
	AffiliateID  string            `json:"affiliate_id" validate:"required"`
	Type         models.FraudType  `json:"type" validate:"required,oneof=duplicate_ip suspicious_pattern self_referral rapid_clicks vpn_detected other"`
	Reason       string            `json:"reason" validate:"required,max=500"`
	Severity     int               `json:"severity" validate:"omitempty,min=1,max=10"`
	ClickID      string            `json:"click_id,omitempty"`
	ConversionID string            `json:"conversion_id,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`

	// DedupeKey makes creation idempotent; empty means every call creates a flag
	DedupeKey string `json:"-"`
}

// Screen raises and reviews fraud flags. Flags never change commissions
// directly; the commission gate reads them.
type Screen struct {
	store    *store.Store
	rules    Rules
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewScreen creates a new fraud screen
func NewScreen(st *store.Store, rules Rules, m *metrics.Metrics, log logger.Logger) *Screen {
	if log == nil {
		log = logger.Nop()
	}
	return &Screen{store: st, rules: rules, validate: validator.New(), metrics: m, log: log}
}

// Flag creates a fraud flag
func (s *Screen) Flag(ctx context.Context, in FlagInput) (*models.FraudFlag, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid fraud flag: %w", err)
	}
	if in.Severity == 0 {
		in.Severity = models.DefaultFraudSeverity
	}

	flag := &models.FraudFlag{
		AffiliateID: in.AffiliateID,
		Type:        in.Type,
		Reason:      in.Reason,
		Severity:    in.Severity,
		DedupeKey:   in.DedupeKey,
		Meta:        in.Meta,
	}
	if in.ClickID != "" {
		flag.ClickID = &in.ClickID
	}
	if in.ConversionID != "" {
		flag.ConversionID = &in.ConversionID
	}

	stored, inserted, err := s.store.InsertFraudFlag(ctx, flag)
	if err != nil {
		return nil, fmt.Errorf("failed to create fraud flag: %w", err)
	}
	if inserted {
		s.metrics.RecordFraudFlag(string(stored.Type))
		s.log.Info("fraud flag raised",
			"flag_id", stored.ID,
			"affiliate_id", stored.AffiliateID,
			"type", stored.Type,
			"severity", stored.Severity,
		)
	}
	return stored, nil
}

// MarkReviewed records a review. Reviewing twice keeps the first reviewer.
func (s *Screen) MarkReviewed(ctx context.Context, flagID, reviewerID string) (*models.FraudFlag, error) {
	if _, err := s.store.GetFraudFlag(ctx, flagID); err != nil {
		return nil, fmt.Errorf("failed to get fraud flag: %w", err)
	}
	if err := s.store.MarkFraudFlagReviewed(ctx, flagID, reviewerID, store.Now()); err != nil {
		return nil, fmt.Errorf("failed to review fraud flag: %w", err)
	}
	return s.store.GetFraudFlag(ctx, flagID)
}

// FlagsFor returns the current flags on the clicks or the conversion
func (s *Screen) FlagsFor(ctx context.Context, clickIDs []string, conversionID string) ([]*models.FraudFlag, error) {
	flags, err := s.store.FraudFlagsFor(ctx, clickIDs, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud flags: %w", err)
	}
	return flags, nil
}

// ListForAffiliate returns an affiliate's flags
func (s *Screen) ListForAffiliate(ctx context.Context, affiliateID string, unreviewedOnly bool) ([]*models.FraudFlag, error) {
	return s.store.ListFraudFlags(ctx, affiliateID, unreviewedOnly)
}

// ScreenClick applies the click heuristics to a stored click
func (s *Screen) ScreenClick(ctx context.Context, click *models.Click) ([]*models.FraudFlag, error) {
	var raised []*models.FraudFlag

	if !click.IsUnique {
		f, err := s.Flag(ctx, FlagInput{
			AffiliateID: click.AffiliateID,
			Type:        models.FraudDuplicateIP,
			Reason:      "repeat click from the same visitor within 24h",
			Severity:    SeverityDuplicateIP,
			ClickID:     click.ID,
			DedupeKey:   "duplicate_ip:" + click.ID,
		})
		if err != nil {
			return raised, err
		}
		raised = append(raised, f)
	}

	if s.rules.RapidClickThreshold > 0 {
		n, err := s.store.CountIPClicks(ctx, click.IPHash, click.AffiliateID, click.CreatedAt.Add(-s.rules.RapidClickWindow))
		if err != nil {
			return raised, fmt.Errorf("failed to count ip clicks: %w", err)
		}
		if n >= s.rules.RapidClickThreshold {
			f, err := s.Flag(ctx, FlagInput{
				AffiliateID: click.AffiliateID,
				Type:        models.FraudRapidClicks,
				Reason:      fmt.Sprintf("%d clicks from one address within %s", n, s.rules.RapidClickWindow),
				Severity:    SeverityRapidClicks,
				ClickID:     click.ID,
				Meta:        map[string]string{"clicks": strconv.Itoa(n)},
				DedupeKey:   "rapid_clicks:" + click.ID,
			})
			if err != nil {
				return raised, err
			}
			raised = append(raised, f)
		}
	}

	return raised, nil
}

// ScreenConversion applies the conversion heuristics against the clicks
// credited for it
func (s *Screen) ScreenConversion(ctx context.Context, conv *models.Conversion, clicks []*models.Click) ([]*models.FraudFlag, error) {
	var raised []*models.FraudFlag
	seen := map[string]bool{}

	for _, click := range clicks {
		if conv.CustomerEmail != "" && !seen[click.AffiliateID] {
			seen[click.AffiliateID] = true
			aff, err := s.store.GetAffiliate(ctx, click.AffiliateID)
			if err != nil {
				return raised, fmt.Errorf("failed to get affiliate: %w", err)
			}
			if strings.EqualFold(strings.TrimSpace(aff.Email), strings.TrimSpace(conv.CustomerEmail)) {
				f, err := s.Flag(ctx, FlagInput{
					AffiliateID:  aff.ID,
					Type:         models.FraudSelfReferral,
					Reason:       "customer email matches the affiliate",
					Severity:     SeveritySelfReferral,
					ConversionID: conv.ID,
					DedupeKey:    "self_referral:" + conv.ID + ":" + aff.ID,
				})
				if err != nil {
					return raised, err
				}
				raised = append(raised, f)
			}
		}

		if s.rules.MinClickToConversion > 0 {
			gap := conv.OccurredAt.Sub(click.CreatedAt)
			if gap >= 0 && gap < s.rules.MinClickToConversion {
				f, err := s.Flag(ctx, FlagInput{
					AffiliateID:  click.AffiliateID,
					Type:         models.FraudSuspiciousPattern,
					Reason:       fmt.Sprintf("conversion %s after the click", gap),
					Severity:     SeveritySuspiciousPattern,
					ClickID:      click.ID,
					ConversionID: conv.ID,
					DedupeKey:    "fast_conversion:" + conv.ID + ":" + click.ID,
				})
				if err != nil {
					return raised, err
				}
				raised = append(raised, f)
			}
		}
	}

	return raised, nil
}
