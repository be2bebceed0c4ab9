package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables. These are
// populated at startup by LoadConfig.
var (
	// VaultName identifies the vault instance this process manages; it is
	// also the borrower identity on the lending pools.
	VaultName string

	// OwnerAddress is the vault owner, the only caller allowed to close,
	// reopen, or approve keepers.
	OwnerAddress string
	// KeeperAddress is the address the keeper loop uses for rebalance and
	// compound submissions.
	KeeperAddress string
	// TreasuryAddress receives the minted performance-fee shares.
	TreasuryAddress string

	// CycleIntervalSeconds is the keeper loop period.
	CycleIntervalSeconds uint64

	// WebListenAddr is the bind address of the read-only dashboard API.
	WebListenAddr string

	// Database connection parameters.
	DBHost     string
	DBPort     uint64
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultName, err = getEnv("DNVM_VAULT_NAME")
	if err != nil {
		return err
	}
	OwnerAddress, err = getEnv("DNVM_OWNER_ADDRESS")
	if err != nil {
		return err
	}
	KeeperAddress, err = getEnv("DNVM_KEEPER_ADDRESS")
	if err != nil {
		return err
	}
	TreasuryAddress, err = getEnv("DNVM_TREASURY_ADDRESS")
	if err != nil {
		return err
	}

	CycleIntervalSeconds, err = getEnvAsUint64("DNVM_CYCLE_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	WebListenAddr, err = getEnv("DNVM_WEB_LISTEN_ADDR")
	if err != nil {
		return err
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}
	DBPort, err = getEnvAsUint64("DB_PORT")
	if err != nil {
		return err
	}
	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}
	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}
	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}
	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	log.Debug().
		Str("VaultName", VaultName).
		Str("Keeper", KeeperAddress).
		Uint64("CycleIntervalSeconds", CycleIntervalSeconds).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
