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

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS vault_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			vault_name VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			leverage_target NUMERIC(40, 18) NOT NULL,
			delta_mode VARCHAR(16) NOT NULL,
			fee_per_second NUMERIC(40, 18) NOT NULL,
			treasury VARCHAR(255) NOT NULL,
			debt_ratio_step_threshold NUMERIC(40, 18) NOT NULL,
			debt_ratio_upper_limit NUMERIC(40, 18) NOT NULL,
			debt_ratio_lower_limit NUMERIC(40, 18) NOT NULL,
			delta_upper_limit NUMERIC(40, 18) NOT NULL,
			delta_lower_limit NUMERIC(40, 18) NOT NULL,
			min_slippage NUMERIC(40, 18) NOT NULL,
			min_execution_fee NUMERIC(40, 18) NOT NULL,
			remove_buffer_factor NUMERIC(40, 18) NOT NULL,
			CONSTRAINT uq_vault_parameters_name_version UNIQUE (vault_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_vault_parameters_active ON vault_parameters(vault_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS health_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			vault_name VARCHAR(255) NOT NULL,
			cycle_id VARCHAR(64),
			equity NUMERIC(40, 18) NOT NULL,
			debt_ratio NUMERIC(40, 18) NOT NULL,
			delta NUMERIC(40, 18) NOT NULL,
			lp_amt NUMERIC(40, 18) NOT NULL,
			share_value NUMERIC(40, 18) NOT NULL,
			snapshot_time TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_health_snapshots_vault_time ON health_snapshots(vault_name, snapshot_time DESC);

		CREATE TABLE IF NOT EXISTS action_receipts (
			receipt_id SERIAL PRIMARY KEY,
			vault_name VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			request_key VARCHAR(64) NOT NULL,
			account VARCHAR(255),
			success BOOLEAN NOT NULL,
			message TEXT,
			shares_delta NUMERIC(40, 18) NOT NULL,
			equity_before NUMERIC(40, 18) NOT NULL,
			equity_after NUMERIC(40, 18) NOT NULL,
			receipt_time TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_action_receipts_vault_time ON action_receipts(vault_name, receipt_time DESC);
		CREATE INDEX IF NOT EXISTS idx_action_receipts_request_key ON action_receipts(request_key);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}
