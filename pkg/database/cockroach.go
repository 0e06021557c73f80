package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dessources/PantherKolab-sub001/pkg/constants"
	"github.com/dessources/PantherKolab-sub001/pkg/env"
)

// CockroachDB connection using pgx (PostgreSQL-compatible driver)
type CockroachDB struct {
	Pool *pgxpool.Pool
}

// CockroachConfig holds CockroachDB connection configuration
type CockroachConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewCockroachDB creates a new CockroachDB connection pool
func NewCockroachDB(ctx context.Context, config *CockroachConfig) (*CockroachDB, error) {
	connString := fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		config.User,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = constants.MaxConnLifetime
	poolConfig.MaxConnIdleTime = constants.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = constants.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &CockroachDB{Pool: pool}, nil
}

// Close closes the connection pool
func (db *CockroachDB) Close() {
	db.Pool.Close()
}

// Ping tests the database connection
func (db *CockroachDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns pool statistics
func (db *CockroachDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// NewCockroachDBFromEnv creates connection from environment variables
func NewCockroachDBFromEnv(ctx context.Context) (*CockroachDB, error) {
	config := &CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "pantherkolab"),
		SSLMode:  env.GetString("DB_SSL_MODE", "disable"), // insecure for dev
	}

	return NewCockroachDB(ctx, config)
}
