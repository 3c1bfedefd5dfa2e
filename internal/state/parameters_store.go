// ./internal/state/parameters_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/engine"
)

// DefaultParamsConfig names the parameter set the daemon runs with.
const DefaultParamsConfig = "default_vault_params"

// ParamsVersion is one stored version of the vault parameters.
type ParamsVersion struct {
	ID         int64         `json:"id"`
	ConfigName string        `json:"configName"`
	Version    int           `json:"version"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"createdAt"`
	Params     engine.Params `json:"params"`
}

// SaveParams stores params as the next version of configName. When
// makeActive is set the new version replaces the active one.
func (s *Store) SaveParams(ctx context.Context, params engine.Params, configName string, makeActive bool) (ParamsVersion, error) {
	if err := s.ready(); err != nil {
		return ParamsVersion{}, err
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	var version int
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(version), 0) + 1 FROM vault_parameters WHERE config_name = ?`),
		configName).Scan(&version)
	if err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to compute next parameter version for %s: %w", configName, err)
	}

	if makeActive {
		_, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE vault_parameters SET is_active = FALSE WHERE config_name = ? AND is_active = TRUE`),
			configName)
		if err != nil {
			return ParamsVersion{}, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO vault_parameters (config_name, version, is_active, created_at, params)
		VALUES (?, ?, ?, ?, ?)
		RETURNING params_id`),
		configName, version, makeActive, now.Unix(), string(payload),
	).Scan(&id)
	if err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to insert vault parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("paramsID", id).
		Bool("active", makeActive).
		Msg("Saved vault parameters")

	return ParamsVersion{
		ID:         id,
		ConfigName: configName,
		Version:    version,
		Active:     makeActive,
		CreatedAt:  time.Unix(now.Unix(), 0).UTC(),
		Params:     params,
	}, nil
}

// ActiveParams loads the active parameters of configName. ErrNotFound means
// none were ever activated.
func (s *Store) ActiveParams(ctx context.Context, configName string) (ParamsVersion, error) {
	if err := s.ready(); err != nil {
		return ParamsVersion{}, err
	}

	var (
		pv      ParamsVersion
		created int64
		payload string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT params_id, config_name, version, is_active, created_at, params
		FROM vault_parameters
		WHERE config_name = ? AND is_active = TRUE
		ORDER BY version DESC
		LIMIT 1`), configName).Scan(&pv.ID, &pv.ConfigName, &pv.Version, &pv.Active, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ParamsVersion{}, fmt.Errorf("%w: active parameters for %s", ErrNotFound, configName)
	}
	if err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to load active parameters for %s: %w", configName, err)
	}

	if err := json.Unmarshal([]byte(payload), &pv.Params); err != nil {
		return ParamsVersion{}, fmt.Errorf("failed to unmarshal parameters version %d: %w", pv.Version, err)
	}
	pv.CreatedAt = time.Unix(created, 0).UTC()

	log.Debug().Str("config", configName).Int("version", pv.Version).Msg("Loaded active vault parameters")
	return pv, nil
}
