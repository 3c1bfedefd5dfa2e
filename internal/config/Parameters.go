/*

This file contains the default parameters for the vault.

They are used when no active parameter set is stored in the database, and as
the base the environment overrides are applied to.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/engine"
)

// DefaultParams returns the baseline vault parameters.
func DefaultParams() engine.Params {
	return engine.Params{
		EpochLength: 24 * time.Hour, // One settlement per day.
		// Rationale: Long enough to batch most deposit flow into a single price,
		// short enough that queued capital is not idle for long.

		DepositFeeBps:  0,  // No entry fee by default.
		WithdrawFeeBps: 10, // 0.1% exit fee.
		// Rationale: Covers the cost of pulling liquidity back from fast slots.

		MaxFeeBps: 100, // Fees can never be set above 1%.

		MinDeposit: sdkmath.NewInt(1_000_000), // One whole unit at 6 decimals.
		// Rationale: Dust deposits cost more to settle than they are worth.

		ReserveFloorBps:  500,  // Pause deployment below 5% liquid.
		ReserveTargetBps: 1000, // Keep 10% of total value in custody.
		ReserveCeilBps:   2000, // Resume deployment once back above 20%.
		// Rationale: The gap between floor and ceiling stops deployment from
		// flapping on every small withdrawal.

		DeployInterval: time.Hour, // At most one deployment batch per hour.
		DeployBatchCap: sdkmath.ZeroInt(),
		// Rationale: Uncapped batches; the reserve already bounds what can move.
	}
}
