package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// AccountAddress is the address whose positions this instance manages and
	// whose key signs every transaction. A single shared signing resource:
	// at most one transaction may be in flight from it at a time.
	AccountAddress string

	// FullnodeURL is the REST endpoint of the chain fullnode used for all
	// state reads, view-function calls, and transaction submission.
	FullnodeURL string

	// AggregatorURL is the swap-routing service used to build swap payloads.
	AggregatorURL string

	// DexContract is the address of the CLMM protocol's deployed package,
	// prefixed onto every view and entry function name.
	DexContract string

	// ChainID is the chain ID of the target network.
	ChainID string

	// PoolConfigPath is an optional JSON file overriding the built-in pool
	// policy list. Empty means use DefaultPoolConfigs.
	PoolConfigPath string
)

// LoadConfig loads configuration from environment variables and sets the global
// config vars. All environment variables are required unless noted.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	AccountAddress, err = getEnv("REBALANCER_ACCOUNT")
	if err != nil {
		return err
	}

	FullnodeURL, err = getEnv("FULLNODE_URL")
	if err != nil {
		return err
	}

	AggregatorURL, err = getEnv("AGGREGATOR_URL")
	if err != nil {
		return err
	}

	DexContract, err = getEnv("DEX_CONTRACT")
	if err != nil {
		return err
	}

	ChainID, err = getEnv("CHAIN_ID")
	if err != nil {
		return err
	}

	// Optional override.
	PoolConfigPath = os.Getenv("POOL_CONFIG_PATH")

	log.Debug().
		Str("AccountAddress", AccountAddress).
		Str("ChainID", ChainID).
		Str("FullnodeURL", FullnodeURL).
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

// getEnvAsInt retrieves an environment variable as an int, falling back to the
// given default when unset or malformed.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer environment variable, using default")
		return defaultValue
	}
	return value
}
