package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/ledger"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/metrics"
	"github.com/elys-network/epochvault/internal/queue"
)

// DefaultSchedule runs a cycle every minute.
const DefaultSchedule = "0 * * * * *"

// Error definitions for zero-tolerance error handling
var (
	ErrNilVault        = errors.New("vault cannot be nil")
	ErrEmptyOperator   = errors.New("operator address cannot be empty")
	ErrInvalidSchedule = errors.New("invalid keeper schedule")
	ErrAlreadyStarted  = errors.New("keeper already started")
)

// Vault is the part of the engine the keeper drives.
type Vault interface {
	UnsettledEpochs() []uint64
	Settle(ctx context.Context, epoch uint64) (engine.Settlement, error)
	ProcessQueuedWithdrawals(ctx context.Context) (engine.PayoutResult, error)
	DeployBatch(ctx context.Context, caller sdk.AccAddress) (engine.DeployResult, error)
	Snapshot(ctx context.Context) ledger.Snapshot
	TotalSupply() sdkmath.Int
	QueuedWithdrawals() []queue.WithdrawalRequest
	CurrentEpoch() uint64
	Paused() bool
}

// Recorder persists cycle outcomes.
type Recorder interface {
	IncrementCycle(ctx context.Context) (int, error)
	SaveSettlement(ctx context.Context, s engine.Settlement, at time.Time) error
	SaveDeployment(ctx context.Context, res engine.DeployResult, at time.Time) (int64, error)
}

// Observer receives the end-of-cycle vault state.
type Observer interface {
	Observe(s metrics.State)
	CycleDone(failed bool)
}

// Config holds the dependencies for creating a Keeper.
type Config struct {
	Vault    Vault
	Recorder Recorder // optional
	Observer Observer // optional
	Operator sdk.AccAddress
	Schedule string // cron spec with seconds; DefaultSchedule when empty
	Clock    func() time.Time
	// BeforeCycle runs first in every cycle; the daemon uses it to advance
	// simulated collaborators.
	BeforeCycle func(ctx context.Context)
}

// Keeper drives settlement, withdrawal payout and deployment on a schedule.
type Keeper struct {
	logger   zerolog.Logger
	vault    Vault
	recorder Recorder
	observer Observer
	operator sdk.AccAddress
	schedule string
	now      func() time.Time
	before   func(ctx context.Context)

	mu         sync.Mutex
	cron       *cron.Cron
	cycleCount int
	running    bool
}

// CycleReport summarises one keeper cycle.
type CycleReport struct {
	ID       string               `json:"id"`
	Number   int                  `json:"number"`
	Settled  []engine.Settlement  `json:"settled"`
	Payout   *engine.PayoutResult `json:"payout,omitempty"`
	Deploy   *engine.DeployResult `json:"deploy,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// Failed reports whether any step of the cycle returned an error.
func (r CycleReport) Failed() bool { return len(r.Errors) > 0 }

// New creates a Keeper with dependency injection.
func New(cfg Config) (*Keeper, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}

	k := &Keeper{
		logger:   logger.GetForComponent("keeper"),
		vault:    cfg.Vault,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		operator: cfg.Operator,
		schedule: cfg.Schedule,
		now:      cfg.Clock,
		before:   cfg.BeforeCycle,
	}

	k.logger.Info().
		Str("schedule", k.schedule).
		Str("operator", k.operator.String()).
		Msg("Keeper created")
	return k, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Vault == nil {
		return ErrNilVault
	}
	if cfg.Operator.Empty() {
		return ErrEmptyOperator
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.NewParser(cronFields).Parse(cfg.Schedule); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, cfg.Schedule, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return nil
}

const cronFields = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Start registers the cycle with the cron scheduler and starts it. Overlapping
// runs are skipped.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(cron.NewParser(cronFields)),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(k.schedule, func() { k.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("register keeper cycle: %w", err)
	}
	c.Start()
	k.cron = c
	k.running = true

	k.logger.Info().Str("schedule", k.schedule).Msg("Keeper scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.running = false
	k.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	k.logger.Info().Msg("Keeper scheduler stopped")
}

// Running reports whether the scheduler is active.
func (k *Keeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// RunLoop runs one cycle immediately, then follows the schedule until ctx is
// cancelled.
func (k *Keeper) RunLoop(ctx context.Context) error {
	k.RunCycle(ctx)
	if err := k.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
	k.Stop()
	return nil
}

// RunCycle settles every ended epoch in ascending order, pays queued
// withdrawals, runs a deployment batch and publishes the resulting state.
// Failures are logged and reported; a cycle never panics the daemon.
func (k *Keeper) RunCycle(ctx context.Context) CycleReport {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	report := CycleReport{ID: uuid.New().String()}
	cycleLogger := k.logger.With().Str("cycle_id", report.ID).Logger()

	k.mu.Lock()
	k.cycleCount++
	report.Number = k.cycleCount
	k.mu.Unlock()
	if k.recorder != nil {
		n, err := k.recorder.IncrementCycle(ctx)
		if err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to increment persistent cycle number, using in-process count")
		} else {
			report.Number = n
		}
	}
	cycleLogger.Info().Int("cycleNumber", report.Number).Msg("--- Starting keeper cycle ---")

	fail := func(step string, err error) {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
		cycleLogger.Error().Err(err).Str("step", step).Msg("Keeper step failed")
	}

	if k.before != nil {
		k.before(ctx)
	}

	// Step 1: settle ended epochs, oldest first
	for _, epoch := range k.vault.UnsettledEpochs() {
		if ctx.Err() != nil {
			fail("settle", ctx.Err())
			break
		}
		s, err := k.vault.Settle(ctx, epoch)
		if errors.Is(err, engine.ErrEpochAlreadySettled) {
			continue
		}
		if err != nil {
			// later epochs wait so settlement keeps its order
			fail(fmt.Sprintf("settle epoch %d", epoch), err)
			break
		}
		report.Settled = append(report.Settled, s)
		if k.recorder != nil {
			if err := k.recorder.SaveSettlement(ctx, s, k.now()); err != nil {
				cycleLogger.Error().Err(err).Uint64("epoch", epoch).Msg("Failed to record settlement")
			}
		}
	}

	// Step 2: pay what the queue can pay now
	payout, err := k.vault.ProcessQueuedWithdrawals(ctx)
	if err != nil {
		fail("process withdrawals", err)
	} else {
		report.Payout = &payout
	}

	// Step 3: deploy idle capital
	deploy, err := k.vault.DeployBatch(ctx, k.operator)
	var tooSoon *engine.DeployTooSoonError
	switch {
	case errors.As(err, &tooSoon):
		cycleLogger.Debug().Time("nextAllowed", tooSoon.NextAllowed).Msg("Deployment not due yet")
	case err != nil:
		fail("deploy", err)
	default:
		report.Deploy = &deploy
		if k.recorder != nil {
			if _, err := k.recorder.SaveDeployment(ctx, deploy, k.now()); err != nil {
				cycleLogger.Error().Err(err).Msg("Failed to record deployment")
			}
		}
	}

	// Step 4: publish end-of-cycle state
	snap := k.vault.Snapshot(ctx)
	if k.observer != nil {
		k.observer.Observe(metrics.State{
			Snapshot:     snap,
			ShareSupply:  k.vault.TotalSupply(),
			QueueDepth:   len(k.vault.QueuedWithdrawals()),
			CurrentEpoch: k.vault.CurrentEpoch(),
			Paused:       k.vault.Paused(),
		})
		k.observer.CycleDone(report.Failed())
	}

	report.Duration = time.Since(cycleStartTime)
	cycleLogger.Info().
		Int("settled", len(report.Settled)).
		Str("totalValue", snap.Total.String()).
		Str("withdrawable", snap.Withdrawable.String()).
		Str("pendingWithdrawals", snap.PendingWithdrawals.String()).
		Int("errors", len(report.Errors)).
		Str("cycleDuration", report.Duration.String()).
		Msg("--- Keeper cycle completed ---")
	return report
}
