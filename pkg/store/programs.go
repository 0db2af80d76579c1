package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

var programColumns = []string{
	"id", "owner_id", "name", "currency", "cookie_days", "default_commission_type",
	"default_commission_value", "max_levels", "status", "created_at",
}

func scanProgram(row scanner) (*models.Program, error) {
	var p models.Program
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Currency, &p.CookieDays, &p.DefaultCommissionType,
		&p.DefaultCommissionValue, &p.MaxLevels, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// CreateProgram inserts a program, assigning id and timestamp when absent
func (s *Store) CreateProgram(ctx context.Context, p *models.Program) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Now()
	}
	_, err := s.exec(ctx, s.builder().Insert("programs").Columns(programColumns...).
		Values(p.ID, p.OwnerID, p.Name, p.Currency, p.CookieDays, p.DefaultCommissionType,
			p.DefaultCommissionValue, p.MaxLevels, p.Status, Normalize(p.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert program: %w", err)
	}
	return nil
}

// GetProgram returns a program by id
func (s *Store) GetProgram(ctx context.Context, id string) (*models.Program, error) {
	sel := s.builder().Select(programColumns...).From(entsql.Table("programs")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanProgram, models.ErrNotFound)
}

// UpdateProgramStatus sets a program's status
func (s *Store) UpdateProgramStatus(ctx context.Context, id string, status models.ProgramStatus) error {
	n, err := s.exec(ctx, s.builder().Update("programs").Set("status", status).Where(entsql.EQ("id", id)))
	if err != nil {
		return fmt.Errorf("update program status: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

var attributionRuleColumns = []string{"id", "program_id", "model", "window_days", "cross_device_tracking", "settings", "created_at"}

func scanAttributionRule(row scanner) (*models.AttributionRule, error) {
	var (
		r        models.AttributionRule
		settings sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ProgramID, &r.Model, &r.WindowDays, &r.CrossDeviceTracking, &settings, &r.CreatedAt); err != nil {
		return nil, err
	}
	if settings.Valid {
		var params models.TimeDecayParams
		if err := unmarshalJSON(settings, &params); err != nil {
			return nil, fmt.Errorf("decode attribution settings: %w", err)
		}
		r.TimeDecay = &params
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// UpsertAttributionRule stores the program's single attribution rule, replacing any previous one
func (s *Store) UpsertAttributionRule(ctx context.Context, r *models.AttributionRule) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = Now()
	}
	var settings sql.NullString
	if r.TimeDecay != nil {
		var err error
		if settings, err = marshalJSON(r.TimeDecay); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx, s.builder().Insert("attribution_rules").Columns(attributionRuleColumns...).
		Values(r.ID, r.ProgramID, r.Model, r.WindowDays, r.CrossDeviceTracking, settings, Normalize(r.CreatedAt)).
		OnConflict(
			entsql.ConflictColumns("program_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("model")
				u.SetExcluded("window_days")
				u.SetExcluded("cross_device_tracking")
				u.SetExcluded("settings")
			}),
		))
	if err != nil {
		return fmt.Errorf("upsert attribution rule: %w", err)
	}
	stored, err := s.GetAttributionRule(ctx, r.ProgramID)
	if err != nil {
		return err
	}
	*r = *stored
	return nil
}

// GetAttributionRule returns the program's attribution rule or ErrNotFound
func (s *Store) GetAttributionRule(ctx context.Context, programID string) (*models.AttributionRule, error) {
	sel := s.builder().Select(attributionRuleColumns...).From(entsql.Table("attribution_rules")).
		Where(entsql.EQ("program_id", programID))
	return queryOne(ctx, s, sel, scanAttributionRule, models.ErrNotFound)
}

var levelRuleColumns = []string{
	"id", "program_id", "level", "commission_type", "commission_value", "min_sales_required", "conditions", "created_at",
}

func scanLevelRule(row scanner) (*models.LevelRule, error) {
	var (
		r          models.LevelRule
		conditions sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ProgramID, &r.Level, &r.CommissionType, &r.CommissionValue,
		&r.MinSalesRequired, &conditions, &r.CreatedAt); err != nil {
		return nil, err
	}
	if conditions.Valid {
		var c models.LevelConditions
		if err := unmarshalJSON(conditions, &c); err != nil {
			return nil, fmt.Errorf("decode level conditions: %w", err)
		}
		r.Conditions = &c
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// UpsertLevelRule stores the rule for (program, level), replacing any previous one
func (s *Store) UpsertLevelRule(ctx context.Context, r *models.LevelRule) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = Now()
	}
	var conditions sql.NullString
	if r.Conditions != nil {
		var err error
		if conditions, err = marshalJSON(r.Conditions); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx, s.builder().Insert("level_rules").Columns(levelRuleColumns...).
		Values(r.ID, r.ProgramID, r.Level, r.CommissionType, r.CommissionValue, r.MinSalesRequired,
			conditions, Normalize(r.CreatedAt)).
		OnConflict(
			entsql.ConflictColumns("program_id", "level"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("commission_type")
				u.SetExcluded("commission_value")
				u.SetExcluded("min_sales_required")
				u.SetExcluded("conditions")
			}),
		))
	if err != nil {
		return fmt.Errorf("upsert level rule: %w", err)
	}
	return nil
}

// ListLevelRules returns the program's level rules ordered by level
func (s *Store) ListLevelRules(ctx context.Context, programID string) ([]*models.LevelRule, error) {
	sel := s.builder().Select(levelRuleColumns...).From(entsql.Table("level_rules")).
		Where(entsql.EQ("program_id", programID)).OrderBy(entsql.Asc("level"))
	return queryAll(ctx, s, sel, scanLevelRule)
}

var offerColumns = []string{"id", "program_id", "name", "commission_type", "commission_value", "is_active", "created_at"}

func scanOffer(row scanner) (*models.Offer, error) {
	var o models.Offer
	if err := row.Scan(&o.ID, &o.ProgramID, &o.Name, &o.CommissionType, &o.CommissionValue, &o.IsActive, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

// CreateOffer inserts an offer
func (s *Store) CreateOffer(ctx context.Context, o *models.Offer) error {
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = Now()
	}
	_, err := s.exec(ctx, s.builder().Insert("offers").Columns(offerColumns...).
		Values(o.ID, o.ProgramID, o.Name, o.CommissionType, o.CommissionValue, o.IsActive, Normalize(o.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// GetOffer returns an offer by id
func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	sel := s.builder().Select(offerColumns...).From(entsql.Table("offers")).Where(entsql.EQ("id", id))
	return queryOne(ctx, s, sel, scanOffer, models.ErrNotFound)
}
