// Package postgres implements the license, binding and audit storage
// contracts on PostgreSQL with plain database/sql. All multi-row
// mutations run inside transactions; the at-most-one-active-binding
// invariant is additionally backed by a partial unique index so racing
// binds cannot violate it regardless of caller pre-checks.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) connectString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// DB wraps the sql handle shared by the stores.
type DB struct {
	*sql.DB
}

// Connect opens and pings a pooled connection.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.connectString())
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}
