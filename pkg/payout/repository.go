package payout

import (
	"context"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/store"
)

// Repository is the storage the payout aggregator needs. WithTx runs fn
// atomically when the storage supports transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	ListCommissions(ctx context.Context, f store.CommissionFilter) ([]*models.Commission, error)
	GetCommission(ctx context.Context, id string) (*models.Commission, error)
	AttachCommission(ctx context.Context, id, payoutID string) (bool, error)
	MarkCommissionPaid(ctx context.Context, id, payoutID string, at time.Time) (bool, error)
	DetachPayoutCommissions(ctx context.Context, payoutID string) (int64, error)
	ListPayableGroups(ctx context.Context, from, to time.Time) ([]store.PayableGroup, error)

	InsertPayout(ctx context.Context, p *models.Payout) error
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	GetActivePayout(ctx context.Context, activeKey string) (*models.Payout, error)
	ListPayouts(ctx context.Context, affiliateID string) ([]*models.Payout, error)
	TransitionPayout(ctx context.Context, id string, from, to models.PayoutStatus, upd store.PayoutUpdate) (bool, error)
	SetPayoutTotals(ctx context.Context, p *models.Payout) error
	InsertPayoutItem(ctx context.Context, it *models.PayoutItem) error
	ListPayoutItems(ctx context.Context, payoutID string) ([]*models.PayoutItem, error)

	GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error)
}

// storeRepository adapts *store.Store to Repository
type storeRepository struct {
	*store.Store
}

// NewStoreRepository wraps the SQL store
func NewStoreRepository(st *store.Store) Repository {
	return storeRepository{Store: st}
}

func (r storeRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.Store.InTx(ctx, func(tx *store.Store) error {
		return fn(storeRepository{Store: tx})
	})
}
