// ./internal/state/scheduler_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// GetSchedulerEnabled returns the scheduler's persisted enable flag and the
// time it was last changed. A read failure reports disabled: the safe default
// is to not start cycles.
func GetSchedulerEnabled() (bool, time.Time, error) {
	if DB == nil {
		return false, time.Time{}, fmt.Errorf("database not initialized")
	}

	var enabled bool
	var changedAt time.Time
	err := DB.QueryRow(`SELECT enabled, changed_at FROM scheduler_state WHERE id = 1;`).Scan(&enabled, &changedAt)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to read scheduler state: %w", err)
	}
	return enabled, changedAt, nil
}

// SetSchedulerEnabled persists the scheduler's enable flag.
func SetSchedulerEnabled(enabled bool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		UPDATE scheduler_state
		SET enabled = $1, changed_at = CURRENT_TIMESTAMP
		WHERE id = 1;`, enabled)
	if err != nil {
		return fmt.Errorf("failed to update scheduler state: %w", err)
	}

	log.Info().Bool("enabled", enabled).Msg("Scheduler state updated")
	return nil
}

// GetTrackedAddresses returns the chain addresses tracked for one external
// user. These are read-only configuration inputs to the batch controller.
func GetTrackedAddresses(userID string) ([]string, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT address FROM tracked_addresses WHERE user_id = $1 ORDER BY added_at;`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan tracked address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// AddTrackedAddress records an address for a user. Idempotent.
func AddTrackedAddress(userID, address string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		INSERT INTO tracked_addresses (user_id, address)
		VALUES ($1, $2)
		ON CONFLICT (user_id, address) DO NOTHING;`, userID, address)
	if err != nil {
		return fmt.Errorf("failed to add tracked address: %w", err)
	}
	return nil
}

// RemoveTrackedAddress deletes an address for a user.
func RemoveTrackedAddress(userID, address string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`DELETE FROM tracked_addresses WHERE user_id = $1 AND address = $2;`, userID, address)
	if err != nil {
		return fmt.Errorf("failed to remove tracked address: %w", err)
	}
	return nil
}
