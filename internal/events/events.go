// Package events defines the observability records the vault emits. Events
// never carry correctness: dropping every sink leaves the engine's state
// machine unchanged.
package events

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind names an event type.
type Kind string

const (
	KindDepositQueued        Kind = "deposit_queued"
	KindDeposit              Kind = "deposit"
	KindDepositSettled       Kind = "deposit_settled"
	KindWithdrawalQueued     Kind = "withdrawal_queued"
	KindWithdrawalPaid       Kind = "withdrawal_paid"
	KindEpochSettled         Kind = "epoch_settled"
	KindFeesCollected        Kind = "fees_collected"
	KindDeploymentExecuted   Kind = "deployment_executed"
	KindDeploymentPaused     Kind = "deployment_paused"
	KindDeploymentResumed    Kind = "deployment_resumed"
	KindStrategiesUpdated    Kind = "strategies_updated"
	KindTargetReadFailed     Kind = "target_read_failed"
	KindTargetWithdrawFailed Kind = "target_withdraw_failed"
	KindReserveRecall        Kind = "reserve_recall"
	KindConfigUpdated        Kind = "config_updated"
)

// Event is a single emitted record. Amount fields are zero when not relevant.
type Event struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Epoch     uint64      `json:"epoch"`
	Timestamp time.Time   `json:"timestamp"`
	Account   string      `json:"account,omitempty"`
	Receiver  string      `json:"receiver,omitempty"`
	Target    string      `json:"target,omitempty"`
	RequestID uint64      `json:"request_id,omitempty"`
	Assets    sdkmath.Int `json:"assets"`
	Shares    sdkmath.Int `json:"shares"`
	Fee       sdkmath.Int `json:"fee"`
	Message   string      `json:"message,omitempty"`
}

// New returns an event with a fresh id and zeroed amounts.
func New(kind Kind, epoch uint64, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Epoch:     epoch,
		Timestamp: at,
		Assets:    sdkmath.ZeroInt(),
		Shares:    sdkmath.ZeroInt(),
		Fee:       sdkmath.ZeroInt(),
	}
}

// Sink receives events. Emit must not call back into the vault.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// LogSink writes every event to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	lvl := zerolog.InfoLevel
	switch ev.Kind {
	case KindTargetReadFailed, KindTargetWithdrawFailed, KindDeploymentPaused:
		lvl = zerolog.WarnLevel
	case KindDeposit, KindFeesCollected:
		lvl = zerolog.DebugLevel
	}

	e := s.Logger.WithLevel(lvl).
		Str("event", string(ev.Kind)).
		Uint64("epoch", ev.Epoch)
	if ev.Account != "" {
		e = e.Str("account", ev.Account)
	}
	if ev.Receiver != "" {
		e = e.Str("receiver", ev.Receiver)
	}
	if ev.Target != "" {
		e = e.Str("target", ev.Target)
	}
	if ev.RequestID != 0 {
		e = e.Uint64("requestID", ev.RequestID)
	}
	if !ev.Assets.IsNil() && !ev.Assets.IsZero() {
		e = e.Str("assets", ev.Assets.String())
	}
	if !ev.Shares.IsNil() && !ev.Shares.IsZero() {
		e = e.Str("shares", ev.Shares.String())
	}
	if !ev.Fee.IsNil() && !ev.Fee.IsZero() {
		e = e.Str("fee", ev.Fee.String())
	}
	e.Msg(eventMessage(ev))
}

func eventMessage(ev Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	return "Vault event"
}

// Recorder keeps events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns recorded events of the given kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
