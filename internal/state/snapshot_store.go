// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/engine"
)

// SettlementRecord is a persisted epoch settlement.
type SettlementRecord struct {
	engine.Settlement
	SettledAt time.Time `json:"settledAt"`
}

// DeploymentRecord is a persisted deployment batch.
type DeploymentRecord struct {
	ID         int64     `json:"id"`
	ExecutedAt time.Time `json:"executedAt"`
	engine.DeployResult
}

// SaveSettlement records a settled epoch. An epoch is recorded at most once.
func (s *Store) SaveSettlement(ctx context.Context, settlement engine.Settlement, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO settlements (
			epoch, settled_at, supply_before, value_before, deposit_assets,
			shares_minted, withdraw_assets_paid, withdrawals_paid, withdraw_fees
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (epoch) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, query,
		int64(settlement.Epoch), at.Unix(),
		amountString(settlement.SupplyBefore), amountString(settlement.ValueBefore),
		amountString(settlement.DepositAssets), amountString(settlement.SharesMinted),
		amountString(settlement.WithdrawAssetsPaid), settlement.WithdrawalsPaid,
		amountString(settlement.WithdrawFees),
	)
	if err != nil {
		return fmt.Errorf("failed to save settlement of epoch %d: %w", settlement.Epoch, err)
	}

	log.Info().
		Uint64("epoch", settlement.Epoch).
		Str("sharesMinted", amountString(settlement.SharesMinted)).
		Int("withdrawalsPaid", settlement.WithdrawalsPaid).
		Msg("Settlement saved to database")
	return nil
}

const settlementColumns = `
	epoch, settled_at, supply_before, value_before, deposit_assets,
	shares_minted, withdraw_assets_paid, withdrawals_paid, withdraw_fees`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (SettlementRecord, error) {
	var (
		rec                                          SettlementRecord
		settledAt                                    int64
		supply, value, deposits, minted, paid, wFees string
	)
	if err := row.Scan(
		&rec.Epoch, &settledAt, &supply, &value, &deposits,
		&minted, &paid, &rec.WithdrawalsPaid, &wFees,
	); err != nil {
		return SettlementRecord{}, err
	}
	rec.SettledAt = time.Unix(settledAt, 0).UTC()

	var err error
	if rec.SupplyBefore, err = parseAmount("supply_before", supply); err != nil {
		return SettlementRecord{}, err
	}
	if rec.ValueBefore, err = parseAmount("value_before", value); err != nil {
		return SettlementRecord{}, err
	}
	if rec.DepositAssets, err = parseAmount("deposit_assets", deposits); err != nil {
		return SettlementRecord{}, err
	}
	if rec.SharesMinted, err = parseAmount("shares_minted", minted); err != nil {
		return SettlementRecord{}, err
	}
	if rec.WithdrawAssetsPaid, err = parseAmount("withdraw_assets_paid", paid); err != nil {
		return SettlementRecord{}, err
	}
	if rec.WithdrawFees, err = parseAmount("withdraw_fees", wFees); err != nil {
		return SettlementRecord{}, err
	}
	return rec, nil
}

// Settlement loads the record of one epoch.
func (s *Store) Settlement(ctx context.Context, epoch uint64) (SettlementRecord, error) {
	if err := s.ready(); err != nil {
		return SettlementRecord{}, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+settlementColumns+` FROM settlements WHERE epoch = ?`), int64(epoch))
	rec, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SettlementRecord{}, fmt.Errorf("%w: settlement of epoch %d", ErrNotFound, epoch)
	}
	if err != nil {
		return SettlementRecord{}, fmt.Errorf("failed to load settlement of epoch %d: %w", epoch, err)
	}
	return rec, nil
}

// RecentSettlements returns the newest settlements first.
func (s *Store) RecentSettlements(ctx context.Context, limit int) ([]SettlementRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+settlementColumns+` FROM settlements ORDER BY epoch DESC LIMIT ?`),
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return out, nil
}

// SaveDeployment records a deployment batch and returns its id.
func (s *Store) SaveDeployment(ctx context.Context, res engine.DeployResult, at time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	query := s.rebind(`
		INSERT INTO deployments (executed_at, from_idle, to_locked, skipped)
		VALUES (?, ?, ?, ?)
		RETURNING deployment_id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		at.Unix(), amountString(res.FromIdle), amountString(res.ToLocked), res.Skipped,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save deployment: %w", err)
	}

	log.Debug().
		Int64("deploymentID", id).
		Str("fromIdle", amountString(res.FromIdle)).
		Str("toLocked", amountString(res.ToLocked)).
		Str("skipped", res.Skipped).
		Msg("Deployment saved to database")
	return id, nil
}

// RecentDeployments returns the newest deployment batches first.
func (s *Store) RecentDeployments(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT deployment_id, executed_at, from_idle, to_locked, skipped
		FROM deployments
		ORDER BY deployment_id DESC
		LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []DeploymentRecord
	for rows.Next() {
		var (
			rec                DeploymentRecord
			executed           int64
			fromIdle, toLocked string
		)
		if err := rows.Scan(&rec.ID, &executed, &fromIdle, &toLocked, &rec.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		rec.ExecutedAt = time.Unix(executed, 0).UTC()
		if rec.FromIdle, err = parseAmount("from_idle", fromIdle); err != nil {
			return nil, err
		}
		if rec.ToLocked, err = parseAmount("to_locked", toLocked); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployments: %w", err)
	}
	return out, nil
}
