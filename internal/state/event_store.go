package state

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/events"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func amountString(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

func parseAmount(column, raw string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid amount %q in column %s", raw, column)
	}
	return v, nil
}

// SaveEvent appends one event to the journal. Saving the same event twice
// is a no-op.
func (s *Store) SaveEvent(ctx context.Context, ev events.Event) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO vault_events (
			event_id, kind, epoch, occurred_at, account, receiver, target,
			request_id, assets, shares, fee, message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Kind), int64(ev.Epoch), ev.Timestamp.Unix(), ev.Account, ev.Receiver, ev.Target,
		int64(ev.RequestID), amountString(ev.Assets), amountString(ev.Shares), amountString(ev.Fee), ev.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s event: %w", ev.Kind, err)
	}
	return nil
}

// Emit journals the event. A failed write is logged and dropped; the vault
// never waits on the database.
func (s *Store) Emit(ctx context.Context, ev events.Event) {
	if err := s.SaveEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", string(ev.Kind)).Str("eventID", ev.ID).Msg("Failed to journal vault event")
	}
}

// RecentEvents returns the newest events first. An empty kind matches all.
func (s *Store) RecentEvents(ctx context.Context, kind events.Kind, limit int) ([]events.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT event_id, kind, epoch, occurred_at, account, receiver, target,
		       request_id, assets, shares, fee, message
		FROM vault_events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY occurred_at DESC, event_id LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev                  events.Event
			kindRaw             string
			occurred            int64
			assets, shares, fee string
		)
		if err := rows.Scan(
			&ev.ID, &kindRaw, &ev.Epoch, &occurred, &ev.Account, &ev.Receiver, &ev.Target,
			&ev.RequestID, &assets, &shares, &fee, &ev.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Kind = events.Kind(kindRaw)
		ev.Timestamp = time.Unix(occurred, 0).UTC()
		if ev.Assets, err = parseAmount("assets", assets); err != nil {
			return nil, err
		}
		if ev.Shares, err = parseAmount("shares", shares); err != nil {
			return nil, err
		}
		if ev.Fee, err = parseAmount("fee", fee); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}
