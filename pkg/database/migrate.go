package database

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// column types that differ between PostgreSQL and SQLite
type columnTypes struct {
	Money string
	Time  string
	JSON  string
}

func typesFor(name string) columnTypes {
	if name == dialect.Postgres {
		return columnTypes{Money: "NUMERIC(14,4)", Time: "TIMESTAMPTZ", JSON: "JSONB"}
	}
	return columnTypes{Money: "TEXT", Time: "DATETIME", JSON: "TEXT"}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS programs (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		cookie_days INTEGER NOT NULL,
		default_commission_type VARCHAR(16) NOT NULL,
		default_commission_value {{money}} NOT NULL,
		max_levels INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attribution_rules (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL UNIQUE REFERENCES programs(id),
		model VARCHAR(16) NOT NULL,
		window_days INTEGER NOT NULL,
		cross_device_tracking BOOLEAN NOT NULL,
		settings {{json}},
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS level_rules (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL REFERENCES programs(id),
		level INTEGER NOT NULL,
		commission_type VARCHAR(16) NOT NULL,
		commission_value {{money}} NOT NULL,
		min_sales_required INTEGER NOT NULL,
		conditions {{json}},
		created_at {{time}} NOT NULL,
		UNIQUE (program_id, level)
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL REFERENCES programs(id),
		name VARCHAR(255) NOT NULL,
		commission_type VARCHAR(16) NOT NULL DEFAULT '',
		commission_value {{money}} NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL,
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS affiliates (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL REFERENCES programs(id),
		parent_id VARCHAR(36),
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		referral_code VARCHAR(32) NOT NULL UNIQUE,
		status VARCHAR(16) NOT NULL,
		approved_at {{time}},
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id VARCHAR(36) PRIMARY KEY,
		affiliate_id VARCHAR(36) NOT NULL REFERENCES affiliates(id),
		offer_id VARCHAR(36) NOT NULL REFERENCES offers(id),
		program_id VARCHAR(36) NOT NULL,
		code VARCHAR(64) NOT NULL UNIQUE,
		clicks_count BIGINT NOT NULL DEFAULT 0,
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clicks (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL,
		link_id VARCHAR(36) NOT NULL,
		affiliate_id VARCHAR(36) NOT NULL,
		offer_id VARCHAR(36) NOT NULL,
		ip_hash VARCHAR(128) NOT NULL,
		ua_hash VARCHAR(128) NOT NULL,
		referrer VARCHAR(500),
		landing_url VARCHAR(500),
		session_id VARCHAR(128),
		cookie_id VARCHAR(128),
		subscriber_id VARCHAR(128),
		utm_data {{json}},
		is_unique BOOLEAN NOT NULL,
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_visitor ON clicks (ip_hash, ua_hash, affiliate_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_cookie ON clicks (program_id, cookie_id)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_session ON clicks (program_id, session_id)`,
	`CREATE TABLE IF NOT EXISTS conversions (
		id VARCHAR(64) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL,
		offer_id VARCHAR(36),
		type VARCHAR(16) NOT NULL,
		amount {{money}} NOT NULL,
		currency VARCHAR(3) NOT NULL,
		cookie_id VARCHAR(128),
		session_id VARCHAR(128),
		subscriber_id VARCHAR(128),
		customer_email VARCHAR(255),
		order_id VARCHAR(128),
		coupon_code VARCHAR(64),
		refunded_conversion_id VARCHAR(64),
		occurred_at {{time}} NOT NULL,
		created_at {{time}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payouts (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL,
		affiliate_id VARCHAR(36) NOT NULL,
		period_start {{time}} NOT NULL,
		period_end {{time}} NOT NULL,
		total_amount {{money}} NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		payment_reference VARCHAR(255),
		failure_reason VARCHAR(500),
		item_count INTEGER NOT NULL,
		active_key VARCHAR(255) UNIQUE,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL,
		completed_at {{time}}
	)`,
	`CREATE TABLE IF NOT EXISTS commissions (
		id VARCHAR(36) PRIMARY KEY,
		program_id VARCHAR(36) NOT NULL,
		conversion_id VARCHAR(64) NOT NULL,
		affiliate_id VARCHAR(36) NOT NULL,
		click_id VARCHAR(36) NOT NULL,
		level INTEGER NOT NULL,
		weight DOUBLE PRECISION NOT NULL,
		base_amount {{money}} NOT NULL,
		amount {{money}} NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		held BOOLEAN NOT NULL DEFAULT FALSE,
		hold_reason VARCHAR(500),
		void_reason VARCHAR(500),
		payout_id VARCHAR(36),
		approved_at {{time}},
		paid_at {{time}},
		created_at {{time}} NOT NULL,
		UNIQUE (conversion_id, affiliate_id, level, click_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commissions_affiliate ON commissions (affiliate_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_commissions_payout ON commissions (payout_id)`,
	`CREATE TABLE IF NOT EXISTS payout_items (
		id VARCHAR(36) PRIMARY KEY,
		payout_id VARCHAR(36) NOT NULL REFERENCES payouts(id),
		commission_id VARCHAR(36) NOT NULL REFERENCES commissions(id),
		amount {{money}} NOT NULL,
		created_at {{time}} NOT NULL,
		UNIQUE (payout_id, commission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS fraud_flags (
		id VARCHAR(36) PRIMARY KEY,
		affiliate_id VARCHAR(36) NOT NULL,
		click_id VARCHAR(36),
		conversion_id VARCHAR(64),
		type VARCHAR(32) NOT NULL,
		reason VARCHAR(500) NOT NULL,
		severity INTEGER NOT NULL,
		dedupe_key VARCHAR(255) UNIQUE,
		meta {{json}},
		reviewed BOOLEAN NOT NULL DEFAULT FALSE,
		reviewed_at {{time}},
		reviewed_by VARCHAR(64),
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_flags_click ON fraud_flags (click_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_flags_conversion ON fraud_flags (conversion_id)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id VARCHAR(36) PRIMARY KEY,
		affiliate_id VARCHAR(36) NOT NULL,
		offer_id VARCHAR(36),
		code VARCHAR(64) NOT NULL UNIQUE,
		discount_type VARCHAR(16) NOT NULL,
		discount_value {{money}} NOT NULL,
		starts_at {{time}},
		ends_at {{time}},
		usage_limit INTEGER,
		usage_count INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL,
		created_at {{time}} NOT NULL
	)`,
}

// Statements renders the schema DDL for the given ent dialect
func Statements(name string) []string {
	types := typesFor(name)
	r := strings.NewReplacer("{{money}}", types.Money, "{{time}}", types.Time, "{{json}}", types.JSON)
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = r.Replace(stmt)
	}
	return out
}

// Migrate creates every table and index that doesn't exist yet
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	for _, stmt := range Statements(drv.Dialect()) {
		if _, err := drv.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
