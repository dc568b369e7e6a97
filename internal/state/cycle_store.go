// ./internal/state/cycle_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// SaveCycleSummary persists the per-cycle aggregate. Individual run outcomes
// live in rebalance_runs keyed by cycle_number, so only the counters are
// stored here.
func SaveCycleSummary(summary types.CycleSummary) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO cycle_summaries (
			cycle_id, cycle_number, mode,
			processed, succeeded, failed, deferred,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err := DB.Exec(query,
		summary.CycleID, summary.CycleNumber, summary.Mode,
		summary.Processed, summary.Succeeded, summary.Failed, summary.Deferred,
		summary.StartedAt, summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle summary: %w", err)
	}

	log.Info().Str("cycleID", summary.CycleID).Int("cycle", summary.CycleNumber).Msg("Cycle summary persisted")
	return nil
}

// GetRecentCycles returns the most recent cycle summaries, newest first.
// Outcomes are not rehydrated; callers needing per-run detail join on
// cycle_number via GetRecentRuns.
func GetRecentCycles(limit int) ([]types.CycleSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT cycle_id, cycle_number, mode,
		       processed, succeeded, failed, deferred,
		       started_at, finished_at
		FROM cycle_summaries
		ORDER BY started_at DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.CycleSummary
	for rows.Next() {
		var s types.CycleSummary
		if err := rows.Scan(&s.CycleID, &s.CycleNumber, &s.Mode,
			&s.Processed, &s.Succeeded, &s.Failed, &s.Deferred,
			&s.StartedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cycle summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
