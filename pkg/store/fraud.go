package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var fraudFlagColumns = []string{
	"id", "affiliate_id", "click_id", "conversion_id", "type", "reason", "severity", "dedupe_key", "meta",
	"reviewed", "reviewed_at", "reviewed_by", "created_at",
}

func scanFraudFlag(row scanner) (*models.FraudFlag, error) {
	var (
		f                                       models.FraudFlag
		clickID, conversionID, dedupe, meta, by sql.NullString
		reviewedAt                              sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.AffiliateID, &clickID, &conversionID, &f.Type, &f.Reason, &f.Severity, &dedupe,
		&meta, &f.Reviewed, &reviewedAt, &by, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ClickID = stringPtr(clickID)
	f.ConversionID = stringPtr(conversionID)
	f.DedupeKey = dedupe.String
	if err := unmarshalJSON(meta, &f.Meta); err != nil {
		return nil, fmt.Errorf("decode fraud meta: %w", err)
	}
	f.ReviewedAt = timePtr(reviewedAt)
	f.ReviewedBy = stringPtr(by)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

// InsertFraudFlag stores a flag. When the flag carries a dedupe key that is
// already taken, the stored flag is returned with inserted=false.
func (s *Store) InsertFraudFlag(ctx context.Context, f *models.FraudFlag) (*models.FraudFlag, bool, error) {
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = Now()
	}
	var meta sql.NullString
	if len(f.Meta) > 0 {
		var err error
		if meta, err = marshalJSON(f.Meta); err != nil {
			return nil, false, err
		}
	}
	ins := s.builder().Insert("fraud_flags").Columns(fraudFlagColumns...).
		Values(f.ID, f.AffiliateID, nullStringPtr(f.ClickID), nullStringPtr(f.ConversionID), f.Type, f.Reason,
			f.Severity, nullString(f.DedupeKey), meta, f.Reviewed, nullTime(f.ReviewedAt), nullStringPtr(f.ReviewedBy),
			Normalize(f.CreatedAt))
	if f.DedupeKey != "" {
		ins.OnConflict(entsql.ConflictColumns("dedupe_key"), entsql.DoNothing())
	}
	n, err := s.exec(ctx, ins)
	if err != nil {
		return nil, false, fmt.Errorf("insert fraud flag: %w", err)
	}
	if n == 0 {
		existing, err := s.getFraudFlagBy(ctx, "dedupe_key", f.DedupeKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return f, true, nil
}

func (s *Store) getFraudFlagBy(ctx context.Context, column, value string) (*models.FraudFlag, error) {
	sel := s.builder().Select(fraudFlagColumns...).From(entsql.Table("fraud_flags")).Where(entsql.EQ(column, value))
	return queryOne(ctx, s, sel, scanFraudFlag, models.ErrNotFound)
}

// GetFraudFlag returns a flag by id
func (s *Store) GetFraudFlag(ctx context.Context, id string) (*models.FraudFlag, error) {
	return s.getFraudFlagBy(ctx, "id", id)
}

// MarkFraudFlagReviewed records the first review of a flag. Later calls leave
// the original reviewer and timestamp in place.
func (s *Store) MarkFraudFlagReviewed(ctx context.Context, id, reviewerID string, at time.Time) error {
	_, err := s.exec(ctx, s.builder().Update("fraud_flags").
		Set("reviewed", true).
		Set("reviewed_at", Normalize(at)).
		Set("reviewed_by", reviewerID).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("reviewed", false))))
	if err != nil {
		return fmt.Errorf("review fraud flag: %w", err)
	}
	return nil
}

// FraudFlagsFor returns flags attached to any of the clicks or to the conversion
func (s *Store) FraudFlagsFor(ctx context.Context, clickIDs []string, conversionID string) ([]*models.FraudFlag, error) {
	var preds []*entsql.Predicate
	if len(clickIDs) > 0 {
		preds = append(preds, entsql.In("click_id", toArgs(clickIDs)...))
	}
	if conversionID != "" {
		preds = append(preds, entsql.EQ("conversion_id", conversionID))
	}
	if len(preds) == 0 {
		return nil, nil
	}
	sel := s.builder().Select(fraudFlagColumns...).From(entsql.Table("fraud_flags")).
		Where(entsql.Or(preds...)).OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	return queryAll(ctx, s, sel, scanFraudFlag)
}

// ListFraudFlags returns an affiliate's flags, optionally only unreviewed ones
func (s *Store) ListFraudFlags(ctx context.Context, affiliateID string, unreviewedOnly bool) ([]*models.FraudFlag, error) {
	preds := []*entsql.Predicate{entsql.EQ("affiliate_id", affiliateID)}
	if unreviewedOnly {
		preds = append(preds, entsql.EQ("reviewed", false))
	}
	sel := s.builder().Select(fraudFlagColumns...).From(entsql.Table("fraud_flags")).
		Where(entsql.And(preds...)).OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	return queryAll(ctx, s, sel, scanFraudFlag)
}
