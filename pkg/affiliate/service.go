package affiliate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrAffiliateNotApproved is returned when a pending or blocked affiliate asks for a link
	ErrAffiliateNotApproved = errors.New("affiliate is not approved")
	// ErrOfferMismatch is returned when an offer belongs to another program
	ErrOfferMismatch = errors.New("offer does not belong to the affiliate's program")
)

const codeAttempts = 5

// ProgramInput holds data for creating a program
type ProgramInput struct {
	OwnerID                string                `json:"owner_id" validate:"required"`
	Name                   string                `json:"name" validate:"required,max=255"`
	Currency               string                `json:"currency" validate:"required,len=3"`
	CookieDays             int                   `json:"cookie_days" validate:"gte=0,lte=365"`
	DefaultCommissionType  models.CommissionType `json:"default_commission_type" validate:"required,oneof=percent fixed"`
	DefaultCommissionValue decimal.Decimal       `json:"default_commission_value"`
	MaxLevels              int                   `json:"max_levels" validate:"omitempty,gte=1,lte=10"`
}

// OfferInput holds data for creating an offer. An empty commission type
// leaves the program default in charge.
type OfferInput struct {
	Name            string                `json:"name" validate:"required,max=255"`
	CommissionType  models.CommissionType `json:"commission_type,omitempty" validate:"omitempty,oneof=percent fixed"`
	CommissionValue decimal.Decimal       `json:"commission_value"`
}

// AffiliateInput holds data for enrolling an affiliate
type AffiliateInput struct {
	ProgramID string `json:"program_id" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Name      string `json:"name" validate:"required,max=255"`
	// ReferredBy is the referral code of the recruiting affiliate
	ReferredBy string `json:"referred_by,omitempty"`
}

// AffiliateStats holds statistics for an affiliate
type AffiliateStats struct {
	AffiliateID      string          `json:"affiliate_id"`
	ReferralCode     string          `json:"referral_code"`
	Status           string          `json:"status"`
	Links            int             `json:"links"`
	TotalClicks      int64           `json:"total_clicks"`
	TotalConversions int             `json:"total_conversions"`
	ConversionRate   float64         `json:"conversion_rate"`
	Referrals        int             `json:"referrals"`
	PendingEarnings  decimal.Decimal `json:"pending_earnings"`
	ApprovedEarnings decimal.Decimal `json:"approved_earnings"`
	PaidEarnings     decimal.Decimal `json:"paid_earnings"`
}

// Service manages programs, their rules, affiliates and links
type Service struct {
	store    *store.Store
	validate *validator.Validate
	log      logger.Logger
}

// NewService creates a new affiliate service
func NewService(st *store.Store, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: st, validate: validator.New(), log: log}
}

// CreateProgram creates an active program
func (s *Service) CreateProgram(ctx context.Context, in ProgramInput) (*models.Program, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	unit, err := currency.ParseISO(in.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: currency %q: %v", models.ErrInvalid, in.Currency, err)
	}
	if in.DefaultCommissionValue.IsNegative() {
		return nil, fmt.Errorf("%w: negative default commission", models.ErrInvalid)
	}
	if in.MaxLevels == 0 {
		in.MaxLevels = models.DefaultMaxLevels
	}

	p := &models.Program{
		OwnerID:                in.OwnerID,
		Name:                   in.Name,
		Currency:               unit.String(),
		CookieDays:             in.CookieDays,
		DefaultCommissionType:  in.DefaultCommissionType,
		DefaultCommissionValue: in.DefaultCommissionValue,
		MaxLevels:              in.MaxLevels,
		Status:                 models.ProgramStatusActive,
	}
	if err := s.store.CreateProgram(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	s.log.Info("program created", "program_id", p.ID, "currency", p.Currency, "max_levels", p.MaxLevels)
	return p, nil
}

// SetAttributionRule creates or replaces the program's attribution rule
func (s *Service) SetAttributionRule(ctx context.Context, r *models.AttributionRule) (*models.AttributionRule, error) {
	if err := s.validate.Struct(r); err != nil {
		return nil, fmt.Errorf("invalid attribution rule: %w", err)
	}
	if r.TimeDecay != nil && r.TimeDecay.HalfLifeDays < 0 {
		return nil, fmt.Errorf("%w: negative half-life", models.ErrInvalid)
	}
	if _, err := s.store.GetProgram(ctx, r.ProgramID); err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	if err := s.store.UpsertAttributionRule(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to save attribution rule: %w", err)
	}
	return r, nil
}

// SetLevelRule creates or replaces the rule of one cascade level
func (s *Service) SetLevelRule(ctx context.Context, r *models.LevelRule) (*models.LevelRule, error) {
	if err := s.validate.Struct(r); err != nil {
		return nil, fmt.Errorf("invalid level rule: %w", err)
	}
	if r.CommissionValue.IsNegative() {
		return nil, fmt.Errorf("%w: negative level commission", models.ErrInvalid)
	}
	p, err := s.store.GetProgram(ctx, r.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	if r.Level > p.MaxLevels {
		return nil, fmt.Errorf("%w: level %d above program max_levels %d", models.ErrInvalid, r.Level, p.MaxLevels)
	}
	if err := s.store.UpsertLevelRule(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to save level rule: %w", err)
	}
	return r, nil
}

// CreateOffer adds an active offer to a program
func (s *Service) CreateOffer(ctx context.Context, programID string, in OfferInput) (*models.Offer, error) {
	o := &models.Offer{
		ProgramID:       programID,
		Name:            in.Name,
		CommissionType:  in.CommissionType,
		CommissionValue: in.CommissionValue,
		IsActive:        true,
	}
	if err := s.validate.Struct(o); err != nil {
		return nil, fmt.Errorf("invalid offer: %w", err)
	}
	if o.CommissionValue.IsNegative() {
		return nil, fmt.Errorf("%w: offer commission must not be negative", models.ErrInvalid)
	}
	if o.CommissionType == "" && !o.CommissionValue.IsZero() {
		return nil, fmt.Errorf("%w: offer commission value needs a commission type", models.ErrInvalid)
	}
	if _, err := s.store.GetProgram(ctx, programID); err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	return o, nil
}

// CreateAffiliate enrolls a pending affiliate with a fresh referral code. A
// referral code in ReferredBy links the new affiliate under its owner.
func (s *Service) CreateAffiliate(ctx context.Context, in AffiliateInput) (*models.Affiliate, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid affiliate: %w", err)
	}
	if _, err := s.store.GetProgram(ctx, in.ProgramID); err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}

	a := &models.Affiliate{
		ProgramID: in.ProgramID,
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Name:      in.Name,
		Status:    models.AffiliateStatusPending,
	}

	if in.ReferredBy != "" {
		parent, err := s.store.GetAffiliateByReferralCode(ctx, strings.ToUpper(in.ReferredBy))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve referral code: %w", err)
		}
		if parent.ProgramID != in.ProgramID {
			return nil, fmt.Errorf("%w: referral code %s belongs to another program", models.ErrInvalid, in.ReferredBy)
		}
		a.ParentID = &parent.ID
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}
		taken, err := s.store.ReferralCodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check referral code: %w", err)
		}
		if taken {
			continue
		}
		a.ReferralCode = code
		err = s.store.CreateAffiliate(ctx, a)
		if errors.Is(err, models.ErrDuplicate) {
			a.ID = ""
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create affiliate: %w", err)
		}
		s.log.Info("affiliate enrolled", "affiliate_id", a.ID, "program_id", a.ProgramID, "referred", a.ParentID != nil)
		return a, nil
	}
	return nil, fmt.Errorf("failed to allocate a unique referral code after %d attempts", codeAttempts)
}

// ApproveAffiliate approves a pending affiliate
func (s *Service) ApproveAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	return s.setStatus(ctx, id, models.AffiliateStatusApproved)
}

// BlockAffiliate blocks an affiliate. Its links keep resolving, clicks are
// still recorded and existing commissions are untouched.
func (s *Service) BlockAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	return s.setStatus(ctx, id, models.AffiliateStatusBlocked)
}

func (s *Service) setStatus(ctx context.Context, id string, status models.AffiliateStatus) (*models.Affiliate, error) {
	if err := s.store.SetAffiliateStatus(ctx, id, status, store.Now()); err != nil {
		return nil, fmt.Errorf("failed to set affiliate status: %w", err)
	}
	return s.store.GetAffiliate(ctx, id)
}

// CreateLink creates a tracking link for an approved affiliate. An empty
// code is generated.
func (s *Service) CreateLink(ctx context.Context, affiliateID, offerID, code string) (*models.Link, error) {
	a, err := s.store.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	if a.Status != models.AffiliateStatusApproved {
		return nil, ErrAffiliateNotApproved
	}
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	if o.ProgramID != a.ProgramID {
		return nil, ErrOfferMismatch
	}

	l := &models.Link{AffiliateID: a.ID, OfferID: o.ID, ProgramID: a.ProgramID}
	if code != "" {
		l.Code = code
		if err := s.store.CreateLink(ctx, l); err != nil {
			return nil, fmt.Errorf("failed to create link: %w", err)
		}
		return l, nil
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		if l.Code, err = generateLinkCode(); err != nil {
			return nil, fmt.Errorf("failed to generate link code: %w", err)
		}
		err = s.store.CreateLink(ctx, l)
		if errors.Is(err, models.ErrDuplicate) {
			l.ID = ""
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create link: %w", err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("failed to allocate a unique link code after %d attempts", codeAttempts)
}

// ReferralChain returns up to depth referrers of the affiliate, nearest first
func (s *Service) ReferralChain(ctx context.Context, affiliateID string, depth int) ([]*models.Affiliate, error) {
	return s.store.ReferralChain(ctx, affiliateID, depth)
}

// Stats retrieves statistics for an affiliate
func (s *Service) Stats(ctx context.Context, affiliateID string) (*AffiliateStats, error) {
	a, err := s.store.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	links, err := s.store.ListLinks(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	referrals, err := s.store.CountReferrals(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	commissions, err := s.store.ListCommissions(ctx, store.CommissionFilter{AffiliateID: affiliateID})
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}

	stats := &AffiliateStats{
		AffiliateID:      a.ID,
		ReferralCode:     a.ReferralCode,
		Status:           string(a.Status),
		Links:            len(links),
		Referrals:        referrals,
		PendingEarnings:  decimal.Zero,
		ApprovedEarnings: decimal.Zero,
		PaidEarnings:     decimal.Zero,
	}
	for _, l := range links {
		stats.TotalClicks += l.ClicksCount
	}

	conversions := map[string]bool{}
	for _, c := range commissions {
		if c.Level == 1 && c.Status != models.CommissionVoid {
			conversions[c.ConversionID] = true
		}
		switch c.Status {
		case models.CommissionPending:
			stats.PendingEarnings = stats.PendingEarnings.Add(c.Amount)
		case models.CommissionApproved:
			stats.ApprovedEarnings = stats.ApprovedEarnings.Add(c.Amount)
		case models.CommissionPaid:
			stats.PaidEarnings = stats.PaidEarnings.Add(c.Amount)
		}
	}
	stats.TotalConversions = len(conversions)

	// Calculate conversion rate
	if stats.TotalClicks > 0 {
		stats.ConversionRate = float64(stats.TotalConversions) / float64(stats.TotalClicks) * 100
	}

	return stats, nil
}

// generateReferralCode generates an 8 character upper-case referral code
func generateReferralCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(bytes)), nil
}

// generateLinkCode generates a 12 character tracking code
func generateLinkCode() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
