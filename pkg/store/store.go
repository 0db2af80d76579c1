// Package store persists engine entities through ent's SQL builder.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/affiliate-engine/pkg/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is the SQL repository for every engine table. A Store returned by
// InTx runs all statements on one transaction.
type Store struct {
	db      *sql.DB
	q       querier
	dialect string
	inTx    bool
}

// New wraps a database client
func New(client *database.Client) *Store {
	return &Store{db: client.DB(), q: client.DB(), dialect: client.Dialect()}
}

// NewFromDriver wraps a raw ent driver
func NewFromDriver(drv *entsql.Driver) *Store {
	return &Store{db: drv.DB(), q: drv.DB(), dialect: drv.Dialect()}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// InTx runs fn on a transactional Store. Nested calls reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type builtQuery interface {
	Query() (string, []any)
}

func (s *Store) exec(ctx context.Context, b builtQuery) (int64, error) {
	query, args := b.Query()
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, b builtQuery) (*sql.Rows, error) {
	query, args := b.Query()
	return s.q.QueryContext(ctx, query, args...)
}

func (s *Store) count(ctx context.Context, sel *entsql.Selector) (int, error) {
	rows, err := s.query(ctx, sel)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// scanner is the common surface of *sql.Rows used by the row mappers
type scanner interface {
	Scan(dest ...any) error
}

func queryAll[T any](ctx context.Context, s *Store, sel *entsql.Selector, scan func(scanner) (*T, error)) ([]*T, error) {
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, s *Store, sel *entsql.Selector, scan func(scanner) (*T, error), errNotFound error) (*T, error) {
	all, err := queryAll(ctx, s, sel.Limit(1), scan)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errNotFound
	}
	return all[0], nil
}

// NewID returns a time-ordered identifier
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now returns the storage clock reading: UTC, microsecond precision
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize brings t to the precision every supported database round-trips
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: Normalize(*t), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
