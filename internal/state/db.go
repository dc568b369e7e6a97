// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// TestDBConnection verifies the pool can still reach the database.
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return DB.Ping()
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS rebalance_runs (
			run_id UUID PRIMARY KEY,
			cycle_number INTEGER,
			pool_id VARCHAR(255) NOT NULL,
			success BOOLEAN NOT NULL,
			tx_hashes JSONB NOT NULL DEFAULT '[]'::jsonb,
			swaps JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_positions JSONB NOT NULL DEFAULT '[]'::jsonb,
			removed_positions JSONB NOT NULL DEFAULT '[]'::jsonb,
			errors JSONB NOT NULL DEFAULT '[]'::jsonb,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_runs_started_at ON rebalance_runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_runs_pool ON rebalance_runs(pool_id, started_at DESC);

		CREATE TABLE IF NOT EXISTS cycle_summaries (
			cycle_id UUID PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			mode VARCHAR(32) NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			deferred INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_summaries_started_at ON cycle_summaries(started_at DESC);

		CREATE TABLE IF NOT EXISTS scheduler_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			changed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT scheduler_single_row CHECK (id = 1)
		);
		INSERT INTO scheduler_state (id, enabled)
		VALUES (1, FALSE)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS tracked_addresses (
			user_id VARCHAR(255) NOT NULL,
			address VARCHAR(255) NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, address)
		);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Info().Msg("Database schema ensured")
	return nil
}
