// Package engine is the epoch accounting state machine: deposit and
// withdrawal intents, settlement pricing, FIFO payout, and the liquidity
// allocator that moves idle capital into allocation targets and back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/ledger"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
	"github.com/elys-network/epochvault/internal/utils"
)

// VirtualShareOffset is added to share supply when pricing, so a near-empty
// fund cannot be inflated by donation against its first depositors.
const VirtualShareOffset = 1_000_000

// Error definitions for zero-tolerance error handling
var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrEmptyAddress          = errors.New("address is empty")
	ErrBelowMinimum          = errors.New("deposit below minimum")
	ErrNoStrategies          = errors.New("strategy registry is not configured")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientAssets    = errors.New("insufficient asset balance")
	ErrEpochAlreadySettled   = errors.New("epoch already settled")
	ErrEpochNotEnded         = errors.New("epoch has not ended")
	ErrDeployTooSoon         = errors.New("deployment interval has not elapsed")
	ErrLiquidityInvariant    = errors.New("liquidity invariant violated: custody short after pulling from fast slots")
	ErrUnauthorized          = errors.New("caller is not authorized")
	ErrFeeTooHigh            = errors.New("fee exceeds maximum")
	ErrInvalidReserve        = errors.New("reserve thresholds must satisfy floor <= target <= ceiling <= 10000")
	ErrInvalidEpochLength    = errors.New("epoch length must be at least one second")
	ErrInvalidConfig         = errors.New("invalid vault configuration")
	ErrNonPositiveDeployCap  = errors.New("deploy batch cap must not be negative")
	ErrPooledAccountRequired = errors.New("external-pooled slot configured without a pooled account")
	ErrZeroAssetsForShares   = errors.New("shares redeem for zero assets")
)

// DeployTooSoonError is returned when a deployment batch is attempted
// before the cadence interval has elapsed.
type DeployTooSoonError struct {
	NextAllowed time.Time
}

func (e *DeployTooSoonError) Error() string {
	return fmt.Sprintf("%s: next allowed at %s", ErrDeployTooSoon, e.NextAllowed.UTC().Format(time.RFC3339))
}

func (e *DeployTooSoonError) Is(target error) bool {
	return target == ErrDeployTooSoon
}

// Params is the administrative configuration surface.
type Params struct {
	EpochLength      time.Duration `json:"epochLength"`
	DepositFeeBps    uint32        `json:"depositFeeBps"`
	WithdrawFeeBps   uint32        `json:"withdrawFeeBps"`
	MaxFeeBps        uint32        `json:"maxFeeBps"`
	MinDeposit       sdkmath.Int   `json:"minDeposit"`
	ReserveFloorBps  uint32        `json:"reserveFloorBps"`
	ReserveTargetBps uint32        `json:"reserveTargetBps"`
	ReserveCeilBps   uint32        `json:"reserveCeilBps"`
	DeployInterval   time.Duration `json:"deployInterval"`
	DeployBatchCap   sdkmath.Int   `json:"deployBatchCap"` // zero means uncapped
}

// Validate checks the parameter invariants enforced at set time.
func (p Params) Validate() error {
	if p.EpochLength < time.Second {
		return ErrInvalidEpochLength
	}
	if err := utils.ValidateBps(p.MaxFeeBps); err != nil {
		return fmt.Errorf("max fee: %w", err)
	}
	if p.DepositFeeBps > p.MaxFeeBps || p.WithdrawFeeBps > p.MaxFeeBps {
		return fmt.Errorf("%w: deposit %d, withdraw %d, max %d", ErrFeeTooHigh, p.DepositFeeBps, p.WithdrawFeeBps, p.MaxFeeBps)
	}
	if err := validateReserve(p.ReserveFloorBps, p.ReserveTargetBps, p.ReserveCeilBps); err != nil {
		return err
	}
	if !p.MinDeposit.IsNil() && p.MinDeposit.IsNegative() {
		return fmt.Errorf("%w: minimum deposit is negative", ErrInvalidConfig)
	}
	if !p.DeployBatchCap.IsNil() && p.DeployBatchCap.IsNegative() {
		return ErrNonPositiveDeployCap
	}
	if p.DeployInterval < 0 {
		return fmt.Errorf("%w: negative deploy interval", ErrInvalidConfig)
	}
	return nil
}

func validateReserve(floor, target, ceil uint32) error {
	if floor > target || target > ceil || ceil > utils.BpsDenominator {
		return fmt.Errorf("%w: got %d/%d/%d", ErrInvalidReserve, floor, target, ceil)
	}
	return nil
}

// Roles names the privileged and system accounts.
type Roles struct {
	Admin    sdk.AccAddress
	Operator sdk.AccAddress
	Treasury sdk.AccAddress
	Custody  sdk.AccAddress
}

// Config holds the dependencies for creating a Vault.
type Config struct {
	Params Params
	Roles  Roles
	Bank   bank.Bank
	// Pooled is the external capital-routing account; nil when the fund
	// never uses the external-pooled tier.
	Pooled target.PooledAccount
	Slots  []registry.Slot
	Events events.Sink
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Vault is the single aggregate owning all ledger and queue state. Every
// entry point holds mu for its whole duration, calls into targets included.
type Vault struct {
	mu sync.Mutex

	logger zerolog.Logger
	now    func() time.Time
	sink   events.Sink

	params   Params
	roles    Roles
	bank     bank.Bank
	pooled   target.PooledAccount
	registry *registry.Registry
	queue    *queue.Queue
	ledger   *ledger.Ledger

	shares      map[string]sdkmath.Int
	totalShares sdkmath.Int
	allowances  map[string]sdkmath.Int
	settled     map[uint64]bool

	// epoch epochBase began at epochAnchor (unix seconds); each later epoch
	// lasts params.EpochLength
	epochBase   uint64
	epochAnchor int64

	paused     bool
	lastDeploy time.Time
	deployed   bool
}

// New creates a Vault from cfg.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("vault configuration validation failed: %w", err)
	}

	reg, err := registry.New(cfg.Slots)
	if err != nil {
		return nil, fmt.Errorf("invalid strategy registry: %w", err)
	}
	if _, ok := reg.Pooled(); ok && cfg.Pooled == nil {
		return nil, ErrPooledAccountRequired
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sink := cfg.Events
	if sink == nil {
		sink = events.Nop{}
	}

	params := cfg.Params
	if params.MinDeposit.IsNil() {
		params.MinDeposit = sdkmath.ZeroInt()
	}
	if params.DeployBatchCap.IsNil() {
		params.DeployBatchCap = sdkmath.ZeroInt()
	}

	v := &Vault{
		logger:      logger.GetForComponent("vault_engine"),
		now:         clock,
		sink:        sink,
		params:      params,
		roles:       cfg.Roles,
		bank:        cfg.Bank,
		pooled:      cfg.Pooled,
		registry:    reg,
		queue:       queue.New(),
		shares:      make(map[string]sdkmath.Int),
		totalShares: sdkmath.ZeroInt(),
		allowances:  make(map[string]sdkmath.Int),
		settled:     make(map[uint64]bool),
	}
	v.ledger = ledger.New(cfg.Bank, cfg.Roles.Custody, cfg.Pooled, v.reportReadFailure)

	v.logger.Info().
		Dur("epochLength", params.EpochLength).
		Uint32("depositFeeBps", params.DepositFeeBps).
		Uint32("withdrawFeeBps", params.WithdrawFeeBps).
		Int("slots", len(cfg.Slots)).
		Msg("Vault instance created")

	return v, nil
}

func validateConfig(cfg Config) error {
	if cfg.Bank == nil {
		return fmt.Errorf("%w: bank cannot be nil", ErrInvalidConfig)
	}
	if cfg.Roles.Admin.Empty() {
		return fmt.Errorf("%w: admin address cannot be empty", ErrInvalidConfig)
	}
	if cfg.Roles.Operator.Empty() {
		return fmt.Errorf("%w: operator address cannot be empty", ErrInvalidConfig)
	}
	if cfg.Roles.Treasury.Empty() {
		return fmt.Errorf("%w: treasury address cannot be empty", ErrInvalidConfig)
	}
	if cfg.Roles.Custody.Empty() {
		return fmt.Errorf("%w: custody address cannot be empty", ErrInvalidConfig)
	}
	return cfg.Params.Validate()
}

// epochAt maps a time to its epoch index.
func (v *Vault) epochAt(t time.Time) uint64 {
	secs := t.Unix()
	if secs < v.epochAnchor {
		return v.epochBase
	}
	return v.epochBase + uint64(secs-v.epochAnchor)/v.epochSeconds()
}

func (v *Vault) epochSeconds() uint64 {
	return uint64(v.params.EpochLength / time.Second)
}

// reanchorEpochs pins the running epoch's start under the current length, so
// a new length only stretches or shrinks epochs from there on and indices
// never move backwards.
func (v *Vault) reanchorEpochs() {
	current := v.currentEpoch()
	v.epochAnchor += int64((current - v.epochBase) * v.epochSeconds())
	v.epochBase = current
}

func (v *Vault) currentEpoch() uint64 {
	return v.epochAt(v.now())
}

func (v *Vault) snapshot(ctx context.Context) ledger.Snapshot {
	return v.ledger.Snapshot(ctx, v.registry, ledger.Pending{
		Withdrawals: v.queue.PendingWithdrawalAssets(),
		Deposits:    v.queue.TotalPendingDeposits(),
	})
}

func (v *Vault) event(kind events.Kind) events.Event {
	now := v.now()
	return events.New(kind, v.epochAt(now), now)
}

func (v *Vault) emit(ctx context.Context, ev events.Event) {
	v.sink.Emit(ctx, ev)
}

func (v *Vault) reportReadFailure(ctx context.Context, name string, err error) {
	ev := v.event(events.KindTargetReadFailed)
	ev.Target = name
	ev.Message = err.Error()
	v.emit(ctx, ev)
}

func (v *Vault) reportWithdrawFailure(ctx context.Context, name string, amount sdkmath.Int, err error) {
	ev := v.event(events.KindTargetWithdrawFailed)
	ev.Target = name
	ev.Assets = amount
	ev.Message = err.Error()
	v.emit(ctx, ev)
}

func (v *Vault) isOperator(caller sdk.AccAddress) bool {
	return caller.Equals(v.roles.Operator) || caller.Equals(v.roles.Admin)
}

func (v *Vault) requireAdmin(caller sdk.AccAddress) error {
	if !caller.Equals(v.roles.Admin) {
		return fmt.Errorf("%w: %s is not admin", ErrUnauthorized, caller)
	}
	return nil
}

func (v *Vault) shareBalance(addr sdk.AccAddress) sdkmath.Int {
	if b, ok := v.shares[addr.String()]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (v *Vault) setShareBalance(addr sdk.AccAddress, amount sdkmath.Int) {
	if amount.IsZero() {
		delete(v.shares, addr.String())
		return
	}
	v.shares[addr.String()] = amount
}

func (v *Vault) mint(to sdk.AccAddress, amount sdkmath.Int) {
	v.setShareBalance(to, v.shareBalance(to).Add(amount))
	v.totalShares = v.totalShares.Add(amount)
}

func (v *Vault) burn(from sdk.AccAddress, amount sdkmath.Int) error {
	bal := v.shareBalance(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, from, bal, amount)
	}
	v.setShareBalance(from, bal.Sub(amount))
	v.totalShares = v.totalShares.Sub(amount)
	return nil
}
