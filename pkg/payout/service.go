package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/metrics"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	// ErrNothingToPay is returned when a period has no approved, unbatched commissions
	ErrNothingToPay = errors.New("no payable commissions in period")
)

// Detail is a payout with its item snapshots
type Detail struct {
	*models.Payout
	Items []*models.PayoutItem `json:"items"`
}

// Service aggregates approved commissions into payouts and drives their lifecycle
type Service struct {
	repo    Repository
	objects ObjectStore
	metrics *metrics.Metrics
	log     logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithObjectStore sets where Publish writes exports
func WithObjectStore(o ObjectStore) Option {
	return func(s *Service) { s.objects = o }
}

// WithMetrics records payout transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a payout service over the SQL store
func NewService(st *store.Store, opts ...Option) *Service {
	return NewServiceWithRepository(NewStoreRepository(st), opts...)
}

// NewServiceWithRepository creates a payout service over any Repository
func NewServiceWithRepository(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateForPeriod batches the affiliate's approved, unbatched commissions
// created in [start, end] into a pending payout. While a payout for the same
// (program, affiliate, period) is pending or processing, that payout is
// returned instead of a new one.
func (s *Service) CreateForPeriod(ctx context.Context, programID, affiliateID string, start, end time.Time) (*models.Payout, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: period end %s before start %s", models.ErrInvalid, end, start)
	}
	p := &models.Payout{
		ProgramID:   programID,
		AffiliateID: affiliateID,
		PeriodStart: store.Normalize(start),
		PeriodEnd:   store.Normalize(end),
		Status:      models.PayoutPending,
	}

	if existing, err := s.repo.GetActivePayout(ctx, p.ActiveKey()); err == nil {
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active payout: %w", err)
	}

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		held := false
		eligible, err := tx.ListCommissions(ctx, store.CommissionFilter{
			ProgramID:   programID,
			AffiliateID: affiliateID,
			Statuses:    []models.CommissionStatus{models.CommissionApproved},
			Held:        &held,
			Unbatched:   true,
			CreatedFrom: &p.PeriodStart,
			CreatedTo:   &p.PeriodEnd,
		})
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return ErrNothingToPay
		}
		p.Currency = eligible[0].Currency

		if err := tx.InsertPayout(ctx, p); err != nil {
			return err
		}

		total := decimal.Zero
		count := 0
		for _, c := range eligible {
			if c.Currency != p.Currency {
				s.log.Warn("commission currency differs from payout, left for a later batch",
					"commission_id", c.ID, "currency", c.Currency, "payout_currency", p.Currency)
				continue
			}
			// compare-and-swap on payout_id IS NULL
			attached, err := tx.AttachCommission(ctx, c.ID, p.ID)
			if err != nil {
				return err
			}
			if !attached {
				continue
			}
			if err := tx.InsertPayoutItem(ctx, &models.PayoutItem{
				PayoutID:     p.ID,
				CommissionID: c.ID,
				Amount:       c.Amount,
			}); err != nil {
				return err
			}
			total = total.Add(c.Amount)
			count++
		}
		if count == 0 {
			return ErrNothingToPay
		}

		p.TotalAmount = total
		p.ItemCount = count
		return tx.SetPayoutTotals(ctx, p)
	})

	if errors.Is(err, models.ErrDuplicate) {
		// a concurrent request claimed the period first
		existing, getErr := s.repo.GetActivePayout(ctx, p.ActiveKey())
		if getErr != nil {
			return nil, fmt.Errorf("failed to load concurrent payout: %w", getErr)
		}
		return existing, nil
	}
	if err != nil {
		if errors.Is(err, ErrNothingToPay) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	s.metrics.RecordPayoutTransition(string(models.PayoutPending))
	s.log.Info("payout created",
		"payout_id", p.ID,
		"affiliate_id", affiliateID,
		"items", p.ItemCount,
		"total", p.TotalAmount.StringFixed(2),
	)
	return p, nil
}

// Get returns a payout with its items
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	items, err := s.repo.ListPayoutItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout items: %w", err)
	}
	return &Detail{Payout: p, Items: items}, nil
}

// ListForAffiliate returns an affiliate's payouts, newest first
func (s *Service) ListForAffiliate(ctx context.Context, affiliateID string) ([]*models.Payout, error) {
	return s.repo.ListPayouts(ctx, affiliateID)
}

// MarkAsProcessing moves a pending payout to processing
func (s *Service) MarkAsProcessing(ctx context.Context, id string) (*models.Payout, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	if !p.Status.CanTransitionTo(models.PayoutProcessing) {
		return nil, transitionError(p, models.PayoutProcessing)
	}
	if err := s.transition(ctx, s.repo, p, models.PayoutProcessing, store.PayoutUpdate{}); err != nil {
		return nil, err
	}
	return s.repo.GetPayout(ctx, id)
}

// MarkAsCompleted marks every item's commission paid and completes the
// payout in one transaction. Commissions already paid by an earlier attempt
// are left untouched, so a failed completion can simply be retried.
func (s *Service) MarkAsCompleted(ctx context.Context, id, reference string) (*models.Payout, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	if p.Status == models.PayoutCompleted {
		return p, nil
	}
	if !p.Status.CanTransitionTo(models.PayoutCompleted) {
		return nil, transitionError(p, models.PayoutCompleted)
	}

	now := store.Now()
	paid := 0
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		items, err := tx.ListPayoutItems(ctx, id)
		if err != nil {
			return err
		}
		for _, it := range items {
			ok, err := tx.MarkCommissionPaid(ctx, it.CommissionID, id, now)
			if err != nil {
				return fmt.Errorf("commission %s: %w", it.CommissionID, err)
			}
			if ok {
				paid++
			}
		}
		return s.transition(ctx, tx, p, models.PayoutCompleted, store.PayoutUpdate{
			PaymentReference: reference,
			CompletedAt:      &now,
		})
	})
	if err != nil {
		var transitionErr *models.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to complete payout: %w", err)
	}

	s.log.Info("payout completed", "payout_id", id, "commissions_paid", paid, "reference", reference)
	return s.repo.GetPayout(ctx, id)
}

// MarkAsFailed fails a pending or processing payout and releases its unpaid
// commissions for a later batch. Items stay as history.
func (s *Service) MarkAsFailed(ctx context.Context, id, reason string) (*models.Payout, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	if p.Status == models.PayoutFailed {
		return p, nil
	}
	if !p.Status.CanTransitionTo(models.PayoutFailed) {
		return nil, transitionError(p, models.PayoutFailed)
	}

	var released int64
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		if err := s.transition(ctx, tx, p, models.PayoutFailed, store.PayoutUpdate{FailureReason: reason}); err != nil {
			return err
		}
		n, err := tx.DetachPayoutCommissions(ctx, id)
		released = n
		return err
	})
	if err != nil {
		var transitionErr *models.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fail payout: %w", err)
	}

	s.log.Warn("payout failed", "payout_id", id, "reason", reason, "commissions_released", released)
	return s.repo.GetPayout(ctx, id)
}

// BatchPeriod creates payouts for every (program, affiliate) with payable
// commissions created in [start, end]. A failing group does not stop the others.
func (s *Service) BatchPeriod(ctx context.Context, start, end time.Time) ([]*models.Payout, error) {
	groups, err := s.repo.ListPayableGroups(ctx, store.Normalize(start), store.Normalize(end))
	if err != nil {
		return nil, fmt.Errorf("failed to list payable affiliates: %w", err)
	}

	var (
		created []*models.Payout
		errs    []error
	)
	for _, g := range groups {
		p, err := s.CreateForPeriod(ctx, g.ProgramID, g.AffiliateID, start, end)
		if errors.Is(err, ErrNothingToPay) {
			continue
		}
		if err != nil {
			s.log.Error("payout batch failed for affiliate", "program_id", g.ProgramID, "affiliate_id", g.AffiliateID, "error", err)
			errs = append(errs, fmt.Errorf("affiliate %s: %w", g.AffiliateID, err))
			continue
		}
		created = append(created, p)
	}
	return created, errors.Join(errs...)
}

func (s *Service) transition(ctx context.Context, repo Repository, p *models.Payout, to models.PayoutStatus, upd store.PayoutUpdate) error {
	ok, err := repo.TransitionPayout(ctx, p.ID, p.Status, to, upd)
	if err != nil {
		return err
	}
	if !ok {
		current, err := repo.GetPayout(ctx, p.ID)
		if err != nil {
			return err
		}
		return transitionError(current, to)
	}
	s.metrics.RecordPayoutTransition(string(to))
	return nil
}

func transitionError(p *models.Payout, to models.PayoutStatus) error {
	return &models.InvalidTransitionError{Entity: "payout", ID: p.ID, From: string(p.Status), To: string(to)}
}

// PreviousMonth returns the first and last instant of the calendar month before t, in UTC
func PreviousMonth(t time.Time) (start, end time.Time) {
	t = t.UTC()
	firstOfThis := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	start = firstOfThis.AddDate(0, -1, 0)
	return start, firstOfThis.Add(-time.Microsecond)
}
