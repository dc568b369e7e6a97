package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// LoadPoolConfigs returns the pool policy list: the JSON file named by
// POOL_CONFIG_PATH when set, otherwise the built-in defaults.
func LoadPoolConfigs() ([]types.PoolConfig, error) {
	if PoolConfigPath == "" {
		return DefaultPoolConfigs, nil
	}

	data, err := os.ReadFile(PoolConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool config file %s: %w", PoolConfigPath, err)
	}

	var configs []types.PoolConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse pool config file %s: %w", PoolConfigPath, err)
	}

	seen := make(map[types.PoolID]bool, len(configs))
	for _, cfg := range configs {
		if cfg.PoolID == "" {
			return nil, fmt.Errorf("pool config entry %q has an empty pool id", cfg.Name)
		}
		if seen[cfg.PoolID] {
			return nil, fmt.Errorf("pool config contains duplicate pool id %s", cfg.PoolID)
		}
		seen[cfg.PoolID] = true
	}

	return configs, nil
}
