// ./internal/state/run_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// SaveRebalanceRun persists one orchestrator outcome. Called for every
// terminal state, including failures, so the history always reflects what
// actually happened on-chain.
func SaveRebalanceRun(outcome types.RebalanceOutcome, cycleNumber int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	txHashesJSON, err := json.Marshal(outcome.TxHashes)
	if err != nil {
		return fmt.Errorf("failed to marshal tx_hashes: %w", err)
	}
	swapsJSON, err := json.Marshal(outcome.Swaps)
	if err != nil {
		return fmt.Errorf("failed to marshal swaps: %w", err)
	}
	createdJSON, err := json.Marshal(outcome.CreatedPositions)
	if err != nil {
		return fmt.Errorf("failed to marshal created_positions: %w", err)
	}
	removedJSON, err := json.Marshal(outcome.RemovedPositions)
	if err != nil {
		return fmt.Errorf("failed to marshal removed_positions: %w", err)
	}
	errorsJSON, err := json.Marshal(outcome.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `
		INSERT INTO rebalance_runs (
			run_id, cycle_number, pool_id, success,
			tx_hashes, swaps, created_positions, removed_positions, errors,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err = DB.Exec(query,
		outcome.RunID, cycleNumber, string(outcome.PoolID), outcome.Success,
		txHashesJSON, swapsJSON, createdJSON, removedJSON, errorsJSON,
		outcome.StartedAt, outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rebalance run: %w", err)
	}

	log.Info().Str("runID", outcome.RunID).Bool("success", outcome.Success).Msg("Rebalance run persisted")
	return nil
}

// GetRecentRuns returns the most recent run outcomes, newest first.
func GetRecentRuns(limit int) ([]types.RebalanceOutcome, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, pool_id, success,
		       tx_hashes, swaps, created_positions, removed_positions, errors,
		       started_at, finished_at
		FROM rebalance_runs
		ORDER BY started_at DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance runs: %w", err)
	}
	defer rows.Close()

	var outcomes []types.RebalanceOutcome
	for rows.Next() {
		var o types.RebalanceOutcome
		var poolID string
		var txHashesJSON, swapsJSON, createdJSON, removedJSON, errorsJSON []byte

		if err := rows.Scan(&o.RunID, &poolID, &o.Success,
			&txHashesJSON, &swapsJSON, &createdJSON, &removedJSON, &errorsJSON,
			&o.StartedAt, &o.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance run: %w", err)
		}
		o.PoolID = types.PoolID(poolID)

		if err := json.Unmarshal(txHashesJSON, &o.TxHashes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tx_hashes: %w", err)
		}
		if err := json.Unmarshal(swapsJSON, &o.Swaps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal swaps: %w", err)
		}
		if err := json.Unmarshal(createdJSON, &o.CreatedPositions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal created_positions: %w", err)
		}
		if err := json.Unmarshal(removedJSON, &o.RemovedPositions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal removed_positions: %w", err)
		}
		if err := json.Unmarshal(errorsJSON, &o.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
