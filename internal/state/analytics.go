package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/events"
)

// ActivitySummary aggregates the journal for the dashboard.
type ActivitySummary struct {
	SettledEpochs      int            `json:"settledEpochs"`
	LastSettledEpoch   *uint64        `json:"lastSettledEpoch,omitempty"`
	LastSettledAt      *time.Time     `json:"lastSettledAt,omitempty"`
	DepositAssets      sdkmath.Int    `json:"depositAssets"`
	SharesMinted       sdkmath.Int    `json:"sharesMinted"`
	WithdrawAssetsPaid sdkmath.Int    `json:"withdrawAssetsPaid"`
	WithdrawalsPaid    int            `json:"withdrawalsPaid"`
	FeesCollected      sdkmath.Int    `json:"feesCollected"`
	Deployments        int            `json:"deployments"`
	DeployedFromIdle   sdkmath.Int    `json:"deployedFromIdle"`
	EventsByKind       map[string]int `json:"eventsByKind"`
}

// Summary folds settlements, deployments and the event journal into one
// report. Amounts are stored as decimal strings, so they are summed here
// rather than in SQL.
func (s *Store) Summary(ctx context.Context) (*ActivitySummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	summary := &ActivitySummary{
		DepositAssets:      sdkmath.ZeroInt(),
		SharesMinted:       sdkmath.ZeroInt(),
		WithdrawAssetsPaid: sdkmath.ZeroInt(),
		FeesCollected:      sdkmath.ZeroInt(),
		DeployedFromIdle:   sdkmath.ZeroInt(),
		EventsByKind:       make(map[string]int),
	}

	if err := s.sumSettlements(ctx, summary); err != nil {
		return nil, err
	}
	if err := s.sumDeployments(ctx, summary); err != nil {
		return nil, err
	}
	if err := s.countEvents(ctx, summary); err != nil {
		return nil, err
	}

	log.Debug().
		Int("settledEpochs", summary.SettledEpochs).
		Int("deployments", summary.Deployments).
		Msg("Retrieved activity summary")
	return summary, nil
}

func (s *Store) sumSettlements(ctx context.Context, summary *ActivitySummary) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, settled_at, deposit_assets, shares_minted, withdraw_assets_paid, withdrawals_paid, withdraw_fees
		FROM settlements`)
	if err != nil {
		return fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var lastAt int64
	for rows.Next() {
		var (
			epoch                        uint64
			settledAt                    int64
			deposits, minted, paid, fees string
			count                        int
		)
		if err := rows.Scan(&epoch, &settledAt, &deposits, &minted, &paid, &count, &fees); err != nil {
			return fmt.Errorf("failed to scan settlement row: %w", err)
		}
		summary.SettledEpochs++
		summary.WithdrawalsPaid += count
		for _, f := range []struct {
			column string
			raw    string
			acc    *sdkmath.Int
		}{
			{"deposit_assets", deposits, &summary.DepositAssets},
			{"shares_minted", minted, &summary.SharesMinted},
			{"withdraw_assets_paid", paid, &summary.WithdrawAssetsPaid},
		} {
			v, err := parseAmount(f.column, f.raw)
			if err != nil {
				return err
			}
			*f.acc = f.acc.Add(v)
		}
		if summary.LastSettledEpoch == nil || epoch > *summary.LastSettledEpoch {
			e := epoch
			summary.LastSettledEpoch = &e
		}
		if settledAt > lastAt {
			lastAt = settledAt
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate settlements: %w", err)
	}
	if lastAt > 0 {
		t := time.Unix(lastAt, 0).UTC()
		summary.LastSettledAt = &t
	}
	return nil
}

func (s *Store) sumDeployments(ctx context.Context, summary *ActivitySummary) error {
	rows, err := s.db.QueryContext(ctx, `SELECT from_idle FROM deployments WHERE skipped = ''`)
	if err != nil {
		return fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan deployment row: %w", err)
		}
		v, err := parseAmount("from_idle", raw)
		if err != nil {
			return err
		}
		summary.Deployments++
		summary.DeployedFromIdle = summary.DeployedFromIdle.Add(v)
	}
	return rows.Err()
}

func (s *Store) countEvents(ctx context.Context, summary *ActivitySummary) error {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM vault_events GROUP BY kind`)
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return fmt.Errorf("failed to scan event count: %w", err)
		}
		summary.EventsByKind[kind] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate event counts: %w", err)
	}

	// fee events carry the routed amount
	var fees sql.NullString
	rows2, err := s.db.QueryContext(ctx, s.rebind(`SELECT fee FROM vault_events WHERE kind = ?`), string(events.KindFeesCollected))
	if err != nil {
		return fmt.Errorf("failed to query fee events: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		if err := rows2.Scan(&fees); err != nil {
			return fmt.Errorf("failed to scan fee event: %w", err)
		}
		if !fees.Valid {
			continue
		}
		v, err := parseAmount("fee", fees.String)
		if err != nil {
			return err
		}
		summary.FeesCollected = summary.FeesCollected.Add(v)
	}
	return rows2.Err()
}
