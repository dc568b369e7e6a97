package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePoolFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pools.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing pool file: %v", err)
	}
	old := PoolConfigPath
	PoolConfigPath = path
	t.Cleanup(func() { PoolConfigPath = old })
}

func TestLoadPoolConfigsDefaults(t *testing.T) {
	old := PoolConfigPath
	PoolConfigPath = ""
	t.Cleanup(func() { PoolConfigPath = old })

	configs, err := LoadPoolConfigs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != len(DefaultPoolConfigs) {
		t.Fatalf("expected built-in defaults, got %d entries", len(configs))
	}
}

func TestLoadPoolConfigsFromFile(t *testing.T) {
	writePoolFile(t, `[
		{"pool_id": "0xp1", "name": "APT/USDC", "enabled": true, "range_percent": 5.0},
		{"pool_id": "0xp2", "name": "APT/stkAPT", "enabled": true, "stable_pair": true}
	]`)

	configs, err := LoadPoolConfigs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(configs))
	}
	if configs[0].RangePercent == nil || *configs[0].RangePercent != 5.0 {
		t.Fatalf("range_percent not parsed: %+v", configs[0])
	}
	// Absent range_percent must stay nil: it selects the tightest-range policy.
	if configs[1].RangePercent != nil {
		t.Fatalf("absent range_percent should be nil, got %v", *configs[1].RangePercent)
	}
	if !configs[1].StablePair {
		t.Fatalf("stable_pair not parsed")
	}
}

func TestLoadPoolConfigsRejectsDuplicates(t *testing.T) {
	writePoolFile(t, `[
		{"pool_id": "0xp1", "name": "a", "enabled": true},
		{"pool_id": "0xp1", "name": "b", "enabled": true}
	]`)

	_, err := LoadPoolConfigs()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadPoolConfigsRejectsEmptyID(t *testing.T) {
	writePoolFile(t, `[{"name": "anon", "enabled": true}]`)

	if _, err := LoadPoolConfigs(); err == nil {
		t.Fatalf("expected error for empty pool id")
	}
}
