package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Client holds the database driver
type Client struct {
	Driver *entsql.Driver
	db     *sql.DB // Underlying database for pool stats
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string
	KeyPath      string
	RootCertPath string
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Set SSL mode (overrides any existing sslmode in URL)
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// IsSQLiteURL reports whether the URL points at a SQLite database
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "file:") || strings.HasPrefix(databaseURL, "sqlite://")
}

// NewClientWithSSL opens the database named by databaseURL, applying SSL settings for PostgreSQL
func NewClientWithSSL(databaseURL string, sslCfg *SSLConfig) (*Client, error) {
	if IsSQLiteURL(databaseURL) {
		return NewSQLiteClient(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
	return NewClientWithPoolAndSSL(databaseURL, DefaultPoolConfig(), sslCfg)
}

// NewClientWithPoolAndSSL creates a PostgreSQL client with custom pool and SSL configuration
func NewClientWithPoolAndSSL(databaseURL string, poolCfg PoolConfig, sslCfg *SSLConfig) (*Client, error) {
	connStr, err := BuildConnectionString(databaseURL, sslCfg)
	if err != nil {
		return nil, fmt.Errorf("failed building connection string: %w", err)
	}

	if sslCfg != nil && sslCfg.Mode != "" && sslCfg.Mode != "disable" {
		log.Printf("🔒 Database SSL enabled (mode: %s)", sslCfg.Mode)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	db.SetMaxOpenConns(poolCfg.MaxOpenConns)
	db.SetMaxIdleConns(poolCfg.MaxIdleConns)
	db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)

	log.Printf("✅ Database connection pool configured (max_open: %d, max_idle: %d)",
		poolCfg.MaxOpenConns, poolCfg.MaxIdleConns)

	return open(dialect.Postgres, db)
}

// NewSQLiteClient opens a SQLite database. A single connection keeps
// shared-cache in-memory databases consistent.
func NewSQLiteClient(dsn string) (*Client, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(dialect.SQLite, db)
}

func open(name string, db *sql.DB) (*Client, error) {
	drv := entsql.OpenDB(name, db)
	if err := Migrate(context.Background(), drv); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed creating schema resources: %w", err)
	}
	log.Println("✅ Database connected and migrations applied")
	return &Client{Driver: drv, db: db}, nil
}

// DB returns the underlying *sql.DB
func (c *Client) DB() *sql.DB {
	return c.db
}

// Dialect returns the ent dialect name of the connection
func (c *Client) Dialect() string {
	return c.Driver.Dialect()
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.Driver.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}
