package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var clickColumns = []string{
	"id", "program_id", "link_id", "affiliate_id", "offer_id", "ip_hash", "ua_hash", "referrer", "landing_url",
	"session_id", "cookie_id", "subscriber_id", "utm_data", "is_unique", "created_at",
}

func scanClick(row scanner) (*models.Click, error) {
	var (
		c                                  models.Click
		referrer, landing, session, cookie sql.NullString
		subscriber, utm                    sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ProgramID, &c.LinkID, &c.AffiliateID, &c.OfferID, &c.IPHash, &c.UAHash,
		&referrer, &landing, &session, &cookie, &subscriber, &utm, &c.IsUnique, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Referrer = referrer.String
	c.LandingURL = landing.String
	c.SessionID = session.String
	c.CookieID = cookie.String
	c.SubscriberID = subscriber.String
	if err := unmarshalJSON(utm, &c.UTM); err != nil {
		return nil, fmt.Errorf("decode utm data: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// InsertClick appends a click
func (s *Store) InsertClick(ctx context.Context, c *models.Click) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = Now()
	}
	var utm sql.NullString
	if !c.UTM.IsZero() {
		var err error
		if utm, err = marshalJSON(c.UTM); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx, s.builder().Insert("clicks").Columns(clickColumns...).
		Values(c.ID, c.ProgramID, c.LinkID, c.AffiliateID, c.OfferID, c.IPHash, c.UAHash,
			nullString(c.Referrer), nullString(c.LandingURL), nullString(c.SessionID), nullString(c.CookieID),
			nullString(c.SubscriberID), utm, c.IsUnique, Normalize(c.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

// GetClick returns a click by id
func (s *Store) GetClick(ctx context.Context, id string) (*models.Click, error) {
	sel := s.builder().Select(clickColumns...).From(entsql.Table("clicks")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanClick, models.ErrNotFound)
}

// CountVisitorClicks counts clicks by the same (ip_hash, ua_hash, affiliate) at or after since
func (s *Store) CountVisitorClicks(ctx context.Context, ipHash, uaHash, affiliateID string, since time.Time) (int, error) {
	return s.count(ctx, s.builder().Select(entsql.Count("*")).From(entsql.Table("clicks")).Where(entsql.And(
		entsql.EQ("ip_hash", ipHash),
		entsql.EQ("ua_hash", uaHash),
		entsql.EQ("affiliate_id", affiliateID),
		entsql.GTE("created_at", Normalize(since)),
	)))
}

// CountIPClicks counts clicks by the same (ip_hash, affiliate) at or after since
func (s *Store) CountIPClicks(ctx context.Context, ipHash, affiliateID string, since time.Time) (int, error) {
	return s.count(ctx, s.builder().Select(entsql.Count("*")).From(entsql.Table("clicks")).Where(entsql.And(
		entsql.EQ("ip_hash", ipHash),
		entsql.EQ("affiliate_id", affiliateID),
		entsql.GTE("created_at", Normalize(since)),
	)))
}

// ClicksForVisitor returns the program's clicks matching any visitor key
// with created_at in [from, to], ordered by time then id.
func (s *Store) ClicksForVisitor(ctx context.Context, programID string, keys models.VisitorKeys, from, to time.Time) ([]*models.Click, error) {
	if keys.Empty() {
		return nil, nil
	}
	var matches []*entsql.Predicate
	if len(keys.CookieIDs) > 0 {
		matches = append(matches, entsql.In("cookie_id", toArgs(keys.CookieIDs)...))
	}
	if len(keys.SessionIDs) > 0 {
		matches = append(matches, entsql.In("session_id", toArgs(keys.SessionIDs)...))
	}
	if len(keys.SubscriberIDs) > 0 {
		matches = append(matches, entsql.In("subscriber_id", toArgs(keys.SubscriberIDs)...))
	}
	sel := s.builder().Select(clickColumns...).From(entsql.Table("clicks")).Where(entsql.And(
		entsql.EQ("program_id", programID),
		entsql.GTE("created_at", Normalize(from)),
		entsql.LTE("created_at", Normalize(to)),
		entsql.Or(matches...),
	)).OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	return queryAll(ctx, s, sel, scanClick)
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// VisitorKeysForSubscriber collects the cookie and session ids a subscriber
// has clicked with in the program
func (s *Store) VisitorKeysForSubscriber(ctx context.Context, programID, subscriberID string) (models.VisitorKeys, error) {
	keys := models.VisitorKeys{SubscriberIDs: []string{subscriberID}}
	sel := s.builder().Select("cookie_id", "session_id").From(entsql.Table("clicks")).Where(entsql.And(
		entsql.EQ("program_id", programID),
		entsql.EQ("subscriber_id", subscriberID),
	)).Distinct()
	rows, err := s.query(ctx, sel)
	if err != nil {
		return keys, err
	}
	defer rows.Close()
	for rows.Next() {
		var cookie, session sql.NullString
		if err := rows.Scan(&cookie, &session); err != nil {
			return keys, err
		}
		if cookie.Valid && cookie.String != "" {
			keys.CookieIDs = append(keys.CookieIDs, cookie.String)
		}
		if session.Valid && session.String != "" {
			keys.SessionIDs = append(keys.SessionIDs, session.String)
		}
	}
	return keys, rows.Err()
}
