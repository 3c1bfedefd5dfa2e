/*

This file manages the persistent keeper cycle counter.
The cycle counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CurrentCycle retrieves the current cycle number from the database
func (s *Store) CurrentCycle(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var currentCycle int
	err := s.db.QueryRowContext(ctx, `SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&currentCycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// This should not happen due to the INSERT in EnsureSchema
			log.Warn().Msg("No cycle counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}

	log.Debug().Int("currentCycle", currentCycle).Msg("Retrieved current cycle number")
	return currentCycle, nil
}

// IncrementCycle increments the cycle counter and returns the new value
func (s *Store) IncrementCycle(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	query := s.rebind(`
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = ?
		WHERE id = 1
		RETURNING current_cycle`)

	var newCycle int
	if err := s.db.QueryRowContext(ctx, query, time.Now().Unix()).Scan(&newCycle); err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	log.Debug().Int("newCycle", newCycle).Msg("Incremented cycle counter")
	return newCycle, nil
}

// ResetCycle resets the cycle counter to a specific value (for testing/maintenance)
func (s *Store) ResetCycle(ctx context.Context, cycleNumber int) error {
	if err := s.ready(); err != nil {
		return err
	}
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	query := s.rebind(`
		UPDATE cycle_counter
		SET current_cycle = ?,
		    updated_at = ?
		WHERE id = 1`)

	result, err := s.db.ExecContext(ctx, query, cycleNumber, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}

	log.Warn().Int("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}
