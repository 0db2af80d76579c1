package tracking

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"golang.org/x/crypto/blake2b"
)

// UniqueWindow is the trailing period in which a repeat visitor click is not unique
const UniqueWindow = 24 * time.Hour

// ClickInput holds data for recording a click
type ClickInput struct {
	LinkID       string `validate:"required"`
	AffiliateID  string `validate:"required"`
	OfferID      string
	ProgramID    string `validate:"required"`
	IPHash       string `validate:"required"`
	UAHash       string `validate:"required"`
	Referrer     string
	LandingURL   string
	SessionID    string
	CookieID     string
	SubscriberID string
	UTM          models.UTMData
}

// UniquenessGuard decides whether a click is the first for its visitor and
// affiliate in the trailing window
type UniquenessGuard interface {
	FirstInWindow(ctx context.Context, ipHash, uaHash, affiliateID string, at time.Time) (bool, error)
}

// ClickScreen inspects a stored click for fraud signals
type ClickScreen interface {
	ScreenClick(ctx context.Context, click *models.Click) ([]*models.FraudFlag, error)
}

// StoreGuard answers uniqueness with a count over the click table. Two
// concurrent first clicks may both be reported unique.
type StoreGuard struct {
	store *store.Store
}

// NewStoreGuard creates a guard over the click table
func NewStoreGuard(st *store.Store) *StoreGuard {
	return &StoreGuard{store: st}
}

// FirstInWindow reports whether no click for the visitor and affiliate exists in the trailing window
func (g *StoreGuard) FirstInWindow(ctx context.Context, ipHash, uaHash, affiliateID string, at time.Time) (bool, error) {
	n, err := g.store.CountVisitorClicks(ctx, ipHash, uaHash, affiliateID, at.Add(-UniqueWindow))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Service records tracked clicks
type Service struct {
	store    *store.Store
	guard    UniquenessGuard
	fallback *StoreGuard
	screen   ClickScreen
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithGuard puts g in front of the store-backed uniqueness check
func WithGuard(g UniquenessGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithScreen screens every recorded click
func WithScreen(screen ClickScreen) Option {
	return func(s *Service) { s.screen = screen }
}

// WithMetrics records click counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new tracking service
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		fallback: NewStoreGuard(st),
		validate: validator.New(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveLink looks up a tracking link by its public code
func (s *Service) ResolveLink(ctx context.Context, code string) (*models.Link, error) {
	link, err := s.store.GetLinkByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve link %q: %w", code, err)
	}
	return link, nil
}

// RecordClick stores an immutable click, deciding its uniqueness once, and
// bumps the link counter
func (s *Service) RecordClick(ctx context.Context, in ClickInput) (*models.Click, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid click: %w", err)
	}

	now := store.Now()
	unique, backend := s.firstInWindow(ctx, in, now)
	s.metrics.RecordDedupe(backend, unique)

	click := &models.Click{
		ProgramID:    in.ProgramID,
		LinkID:       in.LinkID,
		AffiliateID:  in.AffiliateID,
		OfferID:      in.OfferID,
		IPHash:       in.IPHash,
		UAHash:       in.UAHash,
		Referrer:     truncate(in.Referrer, models.MaxURLLength),
		LandingURL:   truncate(in.LandingURL, models.MaxURLLength),
		SessionID:    in.SessionID,
		CookieID:     in.CookieID,
		SubscriberID: in.SubscriberID,
		UTM:          in.UTM,
		IsUnique:     unique,
		CreatedAt:    now,
	}

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.InsertClick(ctx, click); err != nil {
			return err
		}
		return tx.IncrementLinkClicks(ctx, click.LinkID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record click: %w", err)
	}
	s.metrics.RecordClick(unique)

	if s.screen != nil {
		// the click is stored either way; screening problems are reported, not returned
		if _, err := s.screen.ScreenClick(ctx, click); err != nil {
			s.log.Warn("click screening failed", "click_id", click.ID, "error", err)
		}
	}

	return click, nil
}

func (s *Service) firstInWindow(ctx context.Context, in ClickInput, at time.Time) (bool, string) {
	if s.guard != nil {
		unique, err := s.guard.FirstInWindow(ctx, in.IPHash, in.UAHash, in.AffiliateID, at)
		if err == nil {
			return unique, "redis"
		}
		s.log.Warn("uniqueness guard unavailable, using click table", "error", err)
	}
	unique, err := s.fallback.FirstInWindow(ctx, in.IPHash, in.UAHash, in.AffiliateID, at)
	if err != nil {
		// no evidence of a repeat
		s.log.Error("uniqueness lookup failed", "error", err)
		return true, "store"
	}
	return unique, "store"
}

// HashVisitor derives the stored ip and user agent hashes with keyed BLAKE2b,
// so raw addresses never reach storage
func HashVisitor(secret, ip, userAgent string) (ipHash, uaHash string, err error) {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	ipHash, err = keyedHash(key, "ip:"+ip)
	if err != nil {
		return "", "", err
	}
	uaHash, err = keyedHash(key, "ua:"+userAgent)
	if err != nil {
		return "", "", err
	}
	return ipHash, uaHash, nil
}

func keyedHash(key []byte, v string) (string, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("failed to create hasher: %w", err)
	}
	h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
