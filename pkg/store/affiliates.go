package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var affiliateColumns = []string{
	"id", "program_id", "parent_id", "email", "name", "referral_code", "status", "approved_at", "created_at",
}

func scanAffiliate(row scanner) (*models.Affiliate, error) {
	var (
		a          models.Affiliate
		parentID   sql.NullString
		approvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.ProgramID, &parentID, &a.Email, &a.Name, &a.ReferralCode, &a.Status,
		&approvedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ParentID = stringPtr(parentID)
	a.ApprovedAt = timePtr(approvedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// CreateAffiliate inserts an affiliate. A taken referral code yields ErrDuplicate.
func (s *Store) CreateAffiliate(ctx context.Context, a *models.Affiliate) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = Now()
	}
	n, err := s.exec(ctx, s.builder().Insert("affiliates").Columns(affiliateColumns...).
		Values(a.ID, a.ProgramID, nullStringPtr(a.ParentID), a.Email, a.Name, a.ReferralCode, a.Status,
			nullTime(a.ApprovedAt), Normalize(a.CreatedAt)).
		OnConflict(entsql.ConflictColumns("referral_code"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert affiliate: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetAffiliate returns an affiliate by id
func (s *Store) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	sel := s.builder().Select(affiliateColumns...).From(entsql.Table("affiliates")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanAffiliate, models.ErrNotFound)
}

// GetAffiliateByReferralCode resolves a referral code
func (s *Store) GetAffiliateByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	sel := s.builder().Select(affiliateColumns...).From(entsql.Table("affiliates")).
		Where(entsql.EQ("referral_code", code))
	return queryOne(ctx, s, sel, scanAffiliate, models.ErrNotFound)
}

// ReferralCodeExists reports whether a referral code is taken
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.count(ctx, s.builder().Select(entsql.Count("*")).From(entsql.Table("affiliates")).
		Where(entsql.EQ("referral_code", code)))
	return n > 0, err
}

// SetAffiliateStatus moves an affiliate to status, stamping approved_at on approval
func (s *Store) SetAffiliateStatus(ctx context.Context, id string, status models.AffiliateStatus, at time.Time) error {
	upd := s.builder().Update("affiliates").Set("status", status).Where(entsql.EQ("id", id))
	if status == models.AffiliateStatusApproved {
		upd.Set("approved_at", Normalize(at))
	}
	n, err := s.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("update affiliate status: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountReferrals counts affiliates whose parent is id
func (s *Store) CountReferrals(ctx context.Context, id string) (int, error) {
	return s.count(ctx, s.builder().Select(entsql.Count("*")).From(entsql.Table("affiliates")).
		Where(entsql.EQ("parent_id", id)))
}

// ReferralChain returns up to depth ancestors of the affiliate, nearest first.
// The walk stops at a missing parent; depth alone bounds a cyclic chain, so
// an affiliate may appear more than once.
func (s *Store) ReferralChain(ctx context.Context, affiliateID string, depth int) ([]*models.Affiliate, error) {
	if depth <= 0 {
		return nil, nil
	}
	current, err := s.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	chain := make([]*models.Affiliate, 0, depth)
	for len(chain) < depth && current.ParentID != nil {
		parent, err := s.GetAffiliate(ctx, *current.ParentID)
		if errors.Is(err, models.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

var linkColumns = []string{"id", "affiliate_id", "offer_id", "program_id", "code", "clicks_count", "created_at"}

func scanLink(row scanner) (*models.Link, error) {
	var l models.Link
	if err := row.Scan(&l.ID, &l.AffiliateID, &l.OfferID, &l.ProgramID, &l.Code, &l.ClicksCount, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

// CreateLink inserts a tracking link. A taken code yields ErrDuplicate.
func (s *Store) CreateLink(ctx context.Context, l *models.Link) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = Now()
	}
	n, err := s.exec(ctx, s.builder().Insert("links").Columns(linkColumns...).
		Values(l.ID, l.AffiliateID, l.OfferID, l.ProgramID, l.Code, l.ClicksCount, Normalize(l.CreatedAt)).
		OnConflict(entsql.ConflictColumns("code"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	if n == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetLink returns a link by id
func (s *Store) GetLink(ctx context.Context, id string) (*models.Link, error) {
	sel := s.builder().Select(linkColumns...).From(entsql.Table("links")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanLink, models.ErrNotFound)
}

// GetLinkByCode resolves a tracking code
func (s *Store) GetLinkByCode(ctx context.Context, code string) (*models.Link, error) {
	sel := s.builder().Select(linkColumns...).From(entsql.Table("links")).Where(entsql.EQ("code", code))
	return queryOne(ctx, s, sel, scanLink, models.ErrNotFound)
}

// ListLinks returns an affiliate's links, oldest first
func (s *Store) ListLinks(ctx context.Context, affiliateID string) ([]*models.Link, error) {
	sel := s.builder().Select(linkColumns...).From(entsql.Table("links")).
		Where(entsql.EQ("affiliate_id", affiliateID)).OrderBy("created_at", "id")
	return queryAll(ctx, s, sel, scanLink)
}

// IncrementLinkClicks bumps the denormalized counter with a single UPDATE
func (s *Store) IncrementLinkClicks(ctx context.Context, linkID string) error {
	n, err := s.exec(ctx, s.builder().Update("links").Add("clicks_count", 1).Where(entsql.EQ("id", linkID)))
	if err != nil {
		return fmt.Errorf("increment link clicks: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
