package commission

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jordanlanch/affiliate-engine/pkg/attribution"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
)

// ReferralDirectory walks an affiliate's referrers, nearest first
type ReferralDirectory interface {
	ReferralChain(ctx context.Context, affiliateID string, depth int) ([]*models.Affiliate, error)
}

// FlagSource returns the fraud flags on a set of clicks or a conversion
type FlagSource interface {
	FlagsFor(ctx context.Context, clickIDs []string, conversionID string) ([]*models.FraudFlag, error)
}

// Config holds calculator policy
type Config struct {
	HoldSeverity int
	// StopOnUnqualifiedLevel ends the cascade at the first level whose
	// recipient misses min_sales_required or the level conditions. When
	// false the level is skipped and deeper levels are still evaluated.
	StopOnUnqualifiedLevel bool
}

// Service computes and manages commissions
type Service struct {
	store     *store.Store
	directory ReferralDirectory
	flags     FlagSource
	gate      Gate
	cfg       Config
	metrics   *metrics.Metrics
	log       logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithDirectory replaces the store-backed referral directory
func WithDirectory(d ReferralDirectory) Option {
	return func(s *Service) { s.directory = d }
}

// WithMetrics records commission counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new commission service
func NewService(st *store.Store, flags FlagSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		directory: st,
		flags:     flags,
		gate:      Gate{Threshold: cfg.HoldSeverity},
		cfg:       cfg,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculate creates the commissions a conversion earns for its credits: for
// each credited click, level 1 pays the click's affiliate and each deeper
// level pays the next referrer up the chain. Reprocessing the same
// conversion returns the stored commissions without creating new ones.
func (s *Service) Calculate(ctx context.Context, conv *models.Conversion, program *models.Program, credits []attribution.Credit) ([]*models.Commission, error) {
	if !conv.Commissionable() || len(credits) == 0 {
		return nil, nil
	}

	explicit, err := s.levelRules(ctx, program)
	if err != nil {
		return nil, err
	}

	maxLevels := program.MaxLevels
	if maxLevels <= 0 {
		maxLevels = models.DefaultMaxLevels
	}

	// Gate once for the whole conversion
	clickIDs := make([]string, len(credits))
	for i, cr := range credits {
		clickIDs[i] = cr.Click.ID
	}
	flags, err := s.flags.FlagsFor(ctx, clickIDs, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud flags: %w", err)
	}
	blocking := s.gate.Blocking(flags)

	currency := conv.Currency
	if currency == "" {
		currency = program.Currency
	}
	now := store.Now()

	offers := map[string]*models.Offer{}
	var planned []*models.Commission
	for _, cr := range credits {
		rules := explicit
		if len(rules) == 0 {
			offer, err := s.creditedOffer(ctx, conv, cr.Click, offers)
			if err != nil {
				return nil, err
			}
			rules = fallbackRules(program, offer, maxLevels)
		}

		var chain []*models.Affiliate
		if maxLevels > 1 {
			chain, err = s.directory.ReferralChain(ctx, cr.Click.AffiliateID, maxLevels-1)
			if err != nil {
				return nil, &models.ExternalLookupError{Lookup: "referral chain", Err: err}
			}
		}

		for level := 1; level <= maxLevels; level++ {
			rule, ok := rules[level]
			if !ok {
				break
			}

			recipient := cr.Click.AffiliateID
			if level > 1 {
				if level-2 >= len(chain) {
					break
				}
				recipient = chain[level-2].ID
			}

			qualified, err := s.qualifies(ctx, program.ID, recipient, rule, conv)
			if err != nil {
				return nil, err
			}
			if !qualified {
				if s.cfg.StopOnUnqualifiedLevel {
					break
				}
				continue
			}

			base, amount := Amount(conv.Amount, cr.Weight, rule.CommissionType, rule.CommissionValue)
			if !amount.IsPositive() {
				continue
			}
			c := &models.Commission{
				ProgramID:    program.ID,
				ConversionID: conv.ID,
				AffiliateID:  recipient,
				ClickID:      cr.Click.ID,
				Level:        level,
				Weight:       cr.Weight,
				BaseAmount:   base,
				Amount:       amount,
				Currency:     currency,
				CreatedAt:    now,
			}
			if len(blocking) > 0 {
				c.Status = models.CommissionPending
				c.Held = true
				c.HoldReason = holdReason(blocking)
			} else {
				c.Status = models.CommissionApproved
				c.ApprovedAt = &now
			}
			planned = append(planned, c)
		}
	}

	var (
		result  []*models.Commission
		created []*models.Commission
	)
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		for _, c := range planned {
			err := tx.InsertCommission(ctx, c)
			if errors.Is(err, models.ErrDuplicate) {
				existing, err := tx.GetCommissionByKey(ctx, c.ConversionID, c.AffiliateID, c.Level, c.ClickID)
				if err != nil {
					return err
				}
				result = append(result, existing)
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, c)
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store commissions: %w", err)
	}

	for _, c := range created {
		amount, _ := c.Amount.Float64()
		s.metrics.RecordCommission(c.Level, string(c.Status), c.Held, c.Currency, amount)
	}
	if len(created) > 0 {
		s.log.Info("commissions created",
			"conversion_id", conv.ID,
			"count", len(created),
			"held", len(blocking) > 0,
		)
	}

	return result, nil
}

// levelRules loads the program's level rules keyed by level
func (s *Service) levelRules(ctx context.Context, program *models.Program) (map[int]*models.LevelRule, error) {
	list, err := s.store.ListLevelRules(ctx, program.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load level rules: %w", err)
	}
	rules := make(map[int]*models.LevelRule, len(list))
	for _, r := range list {
		rules[r.Level] = r
	}
	return rules, nil
}

// creditedOffer returns the conversion's offer, or the credited click's when
// the conversion names none. A missing offer is not an error.
func (s *Service) creditedOffer(ctx context.Context, conv *models.Conversion, click *models.Click, cache map[string]*models.Offer) (*models.Offer, error) {
	id := conv.OfferID
	if id == "" {
		id = click.OfferID
	}
	if id == "" {
		return nil, nil
	}
	if o, ok := cache[id]; ok {
		return o, nil
	}
	o, err := s.store.GetOffer(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		o, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	cache[id] = o
	return o, nil
}

// fallbackRules stand in for a program without level rules. An offer with
// its own commission pays it at level 1 and OfferReferralFactor of it to
// every referrer up to maxLevels; otherwise level 1 earns the program
// default and nothing cascades.
func fallbackRules(program *models.Program, offer *models.Offer, maxLevels int) map[int]*models.LevelRule {
	if !offer.HasCommission() {
		return map[int]*models.LevelRule{1: {
			ProgramID:       program.ID,
			Level:           1,
			CommissionType:  program.DefaultCommissionType,
			CommissionValue: program.DefaultCommissionValue,
		}}
	}
	rules := make(map[int]*models.LevelRule, maxLevels)
	for level := 1; level <= maxLevels; level++ {
		value := offer.CommissionValue
		if level > 1 {
			value = value.Mul(models.OfferReferralFactor)
		}
		rules[level] = &models.LevelRule{
			ProgramID:       program.ID,
			Level:           level,
			CommissionType:  offer.CommissionType,
			CommissionValue: value,
		}
	}
	return rules
}

func (s *Service) qualifies(ctx context.Context, programID, affiliateID string, rule *models.LevelRule, conv *models.Conversion) (bool, error) {
	if !rule.Conditions.Allows(conv) {
		return false, nil
	}
	if rule.MinSalesRequired <= 0 {
		return true, nil
	}
	sales, err := s.store.CountQualifiedSales(ctx, programID, affiliateID)
	if err != nil {
		return false, fmt.Errorf("failed to count qualified sales: %w", err)
	}
	return sales >= rule.MinSalesRequired, nil
}

// Amount computes the credited base and the commission for one credit.
// Percent rules pay value% of amount*weight; fixed rules pay value*weight.
// Commissions are rounded to cents.
func Amount(orderAmount decimal.Decimal, weight float64, kind models.CommissionType, value decimal.Decimal) (base, amount decimal.Decimal) {
	w := decimal.NewFromFloat(weight)
	base = orderAmount.Mul(w).Round(4)
	switch kind {
	case models.CommissionTypeFixed:
		amount = value.Mul(w)
	default:
		amount = orderAmount.Mul(w).Mul(value).Div(decimal.NewFromInt(100))
	}
	return base, amount.Round(2)
}

// ReleaseHeld approves held commissions whose blocking flags have all been
// reviewed. It returns the number of commissions released.
func (s *Service) ReleaseHeld(ctx context.Context) (int, error) {
	held := true
	list, err := s.store.ListCommissions(ctx, store.CommissionFilter{
		Statuses: []models.CommissionStatus{models.CommissionPending},
		Held:     &held,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list held commissions: %w", err)
	}

	byConversion := map[string][]*models.Commission{}
	var order []string
	for _, c := range list {
		if _, ok := byConversion[c.ConversionID]; !ok {
			order = append(order, c.ConversionID)
		}
		byConversion[c.ConversionID] = append(byConversion[c.ConversionID], c)
	}

	released := 0
	now := store.Now()
	for _, conversionID := range order {
		group := byConversion[conversionID]
		clickIDs := make([]string, 0, len(group))
		for _, c := range group {
			clickIDs = append(clickIDs, c.ClickID)
		}

		flags, err := s.flags.FlagsFor(ctx, clickIDs, conversionID)
		if err != nil {
			return released, fmt.Errorf("failed to load fraud flags: %w", err)
		}
		if len(s.gate.Blocking(flags)) > 0 {
			continue
		}

		for _, c := range group {
			ok, err := s.store.ApproveCommission(ctx, c.ID, now)
			if err != nil {
				return released, err
			}
			if ok {
				released++
			}
		}
	}

	s.metrics.RecordReleased(released)
	if released > 0 {
		s.log.Info("held commissions released", "count", released)
	}
	return released, nil
}

// Approve moves a pending commission to approved. A manual hold is
// overridden, but a fraud hold stays until every blocking flag on the
// conversion has been reviewed. Approving an approved commission is a no-op.
func (s *Service) Approve(ctx context.Context, id string) (*models.Commission, error) {
	c, err := s.store.GetCommission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	if c.Status == models.CommissionApproved {
		return c, nil
	}
	if !c.Status.CanTransitionTo(models.CommissionApproved) {
		return nil, transitionError(c, models.CommissionApproved)
	}
	if c.Held {
		blocked, err := s.fraudHeld(ctx, c.ConversionID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, &models.InvalidTransitionError{Entity: "commission", ID: c.ID, From: "held", To: string(models.CommissionApproved)}
		}
	}

	ok, err := s.store.ApproveCommission(ctx, id, store.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost a race; report against the current state
		return nil, s.conflict(ctx, id, models.CommissionApproved)
	}
	return s.store.GetCommission(ctx, id)
}

// fraudHeld reports whether unreviewed flags still block the conversion's
// commissions. Flags on any click the conversion credited count, as in Calculate.
func (s *Service) fraudHeld(ctx context.Context, conversionID string) (bool, error) {
	siblings, err := s.store.ListCommissions(ctx, store.CommissionFilter{ConversionID: conversionID})
	if err != nil {
		return false, fmt.Errorf("failed to list conversion commissions: %w", err)
	}
	clickIDs := make([]string, 0, len(siblings))
	for _, c := range siblings {
		if !slices.Contains(clickIDs, c.ClickID) {
			clickIDs = append(clickIDs, c.ClickID)
		}
	}
	flags, err := s.flags.FlagsFor(ctx, clickIDs, conversionID)
	if err != nil {
		return false, fmt.Errorf("failed to load fraud flags: %w", err)
	}
	return len(s.gate.Blocking(flags)) > 0, nil
}

// Hold marks a pending commission as held for review
func (s *Service) Hold(ctx context.Context, id, reason string) (*models.Commission, error) {
	ok, err := s.store.HoldCommission(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		c, err := s.store.GetCommission(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get commission: %w", err)
		}
		return nil, &models.InvalidTransitionError{Entity: "commission", ID: id, From: string(c.Status), To: "held"}
	}
	return s.store.GetCommission(ctx, id)
}

// Void cancels a commission that has not been batched into a payout.
// Voiding a void commission is a no-op.
func (s *Service) Void(ctx context.Context, id, reason string) (*models.Commission, error) {
	c, err := s.store.GetCommission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	if c.Status == models.CommissionVoid {
		return c, nil
	}
	if !c.Status.CanTransitionTo(models.CommissionVoid) || c.PayoutID != nil {
		return nil, transitionError(c, models.CommissionVoid)
	}

	ok, err := s.store.VoidCommission(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, id, models.CommissionVoid)
	}
	return s.store.GetCommission(ctx, id)
}

// VoidForConversion voids every unbatched pending or approved commission of a
// conversion, typically after a refund. Commissions already in a payout are
// left alone and reported through the log.
func (s *Service) VoidForConversion(ctx context.Context, conversionID, reason string) (int, error) {
	list, err := s.store.ListCommissions(ctx, store.CommissionFilter{
		ConversionID: conversionID,
		Statuses:     []models.CommissionStatus{models.CommissionPending, models.CommissionApproved},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list commissions: %w", err)
	}

	voided := 0
	for _, c := range list {
		ok, err := s.store.VoidCommission(ctx, c.ID, reason)
		if err != nil {
			return voided, err
		}
		if ok {
			voided++
			continue
		}
		s.log.Warn("commission already batched, not voided", "commission_id", c.ID, "conversion_id", conversionID)
	}
	return voided, nil
}

// GetCommissionsForAffiliate lists an affiliate's commissions, optionally by status
func (s *Service) GetCommissionsForAffiliate(ctx context.Context, affiliateID string, status *models.CommissionStatus) ([]*models.Commission, error) {
	f := store.CommissionFilter{AffiliateID: affiliateID}
	if status != nil {
		f.Statuses = []models.CommissionStatus{*status}
	}
	list, err := s.store.ListCommissions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return list, nil
}

// Summary totals an affiliate's commissions by status. Held commissions are
// counted under Held instead of Pending.
func (s *Service) Summary(ctx context.Context, affiliateID string) (*models.CommissionSummary, error) {
	list, err := s.GetCommissionsForAffiliate(ctx, affiliateID, nil)
	if err != nil {
		return nil, err
	}

	sum := &models.CommissionSummary{AffiliateID: affiliateID}
	for _, c := range list {
		sum.Count++
		switch {
		case c.Status == models.CommissionPending && c.Held:
			sum.Held = sum.Held.Add(c.Amount)
		case c.Status == models.CommissionPending:
			sum.Pending = sum.Pending.Add(c.Amount)
		case c.Status == models.CommissionApproved:
			sum.Approved = sum.Approved.Add(c.Amount)
		case c.Status == models.CommissionPaid:
			sum.Paid = sum.Paid.Add(c.Amount)
		case c.Status == models.CommissionVoid:
			sum.Void = sum.Void.Add(c.Amount)
			continue
		}
		sum.Total = sum.Total.Add(c.Amount)
	}
	return sum, nil
}

func (s *Service) conflict(ctx context.Context, id string, to models.CommissionStatus) error {
	c, err := s.store.GetCommission(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get commission: %w", err)
	}
	return transitionError(c, to)
}

func transitionError(c *models.Commission, to models.CommissionStatus) error {
	return &models.InvalidTransitionError{Entity: "commission", ID: c.ID, From: string(c.Status), To: string(to)}
}
