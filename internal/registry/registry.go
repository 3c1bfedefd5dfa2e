// Package registry keeps the ordered list of allocation slots the fund
// deploys capital into, together with their tier and target weight.
package registry

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/target"
	"github.com/elys-network/epochvault/internal/utils"
)

// Tier classifies a slot by how fast its capital can be recalled.
type Tier string

const (
	TierInstant     Tier = "instant"
	TierSynchronous Tier = "synchronous"
	TierLocked      Tier = "locked"
	TierPooled      Tier = "external_pooled"
)

// Fast reports whether capital in this tier backs withdrawals directly.
func (t Tier) Fast() bool {
	return t == TierInstant || t == TierSynchronous
}

func (t Tier) Valid() bool {
	switch t {
	case TierInstant, TierSynchronous, TierLocked, TierPooled:
		return true
	}
	return false
}

// ParseTier maps a configuration string to a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownTier        = errors.New("unknown tier")
	ErrWeightSum          = errors.New("active slot weights must sum to 10000 bps")
	ErrNoActiveSlots      = errors.New("registry has no active slots")
	ErrDuplicateSlot      = errors.New("duplicate slot name")
	ErrMultiplePooled     = errors.New("only one external-pooled slot is allowed")
	ErrPooledHasTarget    = errors.New("external-pooled slot must not name a target")
	ErrMissingTarget      = errors.New("slot requires a target")
	ErrSlotHoldsValue     = errors.New("slot still holds value")
	ErrSlotValueUnknown   = errors.New("slot value could not be read")
	ErrEmptySlotName      = errors.New("slot name is empty")
	ErrDuplicateTargetUse = errors.New("target is used by more than one slot")
)

// Slot is one allocation destination.
type Slot struct {
	Name      string
	Target    target.Target // nil for the external-pooled slot
	WeightBps uint32
	Tier      Tier
	Active    bool
}

// Registry is the ordered slot list. It is not safe for concurrent use; the
// vault serialises access.
type Registry struct {
	slots []Slot
}

// New builds a registry. An empty slot list is allowed and leaves the fund
// unconfigured; a non-empty one must validate.
func New(slots []Slot) (*Registry, error) {
	if len(slots) == 0 {
		return &Registry{}, nil
	}
	if err := Validate(slots); err != nil {
		return nil, err
	}
	return &Registry{slots: cloneSlots(slots)}, nil
}

// Validate checks the structural invariants of a full slot set.
func Validate(slots []Slot) error {
	names := make(map[string]struct{}, len(slots))
	targets := make(map[string]struct{}, len(slots))
	pooled := 0
	var sum uint64
	active := 0

	for _, s := range slots {
		if s.Name == "" {
			return ErrEmptySlotName
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSlot, s.Name)
		}
		names[s.Name] = struct{}{}

		if !s.Tier.Valid() {
			return fmt.Errorf("%w: %q on slot %s", ErrUnknownTier, s.Tier, s.Name)
		}
		if err := utils.ValidateBps(s.WeightBps); err != nil {
			return fmt.Errorf("slot %s: %w", s.Name, err)
		}

		if s.Tier == TierPooled {
			pooled++
			if pooled > 1 {
				return ErrMultiplePooled
			}
			if s.Target != nil {
				return fmt.Errorf("%w: %s", ErrPooledHasTarget, s.Name)
			}
		} else {
			if s.Target == nil {
				return fmt.Errorf("%w: %s", ErrMissingTarget, s.Name)
			}
			key := s.Target.Address().String()
			if _, dup := targets[key]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateTargetUse, s.Target.Name())
			}
			targets[key] = struct{}{}
		}

		if s.Active {
			active++
			sum += uint64(s.WeightBps)
		}
	}

	if active == 0 {
		return ErrNoActiveSlots
	}
	if sum != utils.BpsDenominator {
		return fmt.Errorf("%w: got %d", ErrWeightSum, sum)
	}
	return nil
}

// ValueFunc reads a slot's current value.
type ValueFunc func(ctx context.Context, s Slot) (sdkmath.Int, error)

// Replace swaps in a complete new slot set. A slot is identified by its target
// account, so keeping a name while pointing it at another target removes the
// old one. Every currently active target that is missing or inactive in next
// must hold zero value; otherwise the whole replacement is rejected and the
// registry is unchanged. It returns the names of the removed slots.
func (r *Registry) Replace(ctx context.Context, next []Slot, valueOf ValueFunc) ([]string, error) {
	if err := Validate(next); err != nil {
		return nil, err
	}

	stillActive := make(map[string]bool, len(next))
	for _, s := range next {
		if s.Active {
			stillActive[s.key()] = true
		}
	}

	var removed []string
	for _, s := range r.slots {
		if !s.Active || stillActive[s.key()] {
			continue
		}
		v, err := valueOf(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSlotValueUnknown, s.Name, err)
		}
		if !v.IsZero() {
			return nil, fmt.Errorf("%w: %s holds %s", ErrSlotHoldsValue, s.Name, v)
		}
		removed = append(removed, s.Name)
	}

	r.slots = cloneSlots(next)
	return removed, nil
}

// key is the slot's identity across replacements. The pooled slot has no
// target of its own; the vault's one pooled account stands behind it.
func (s Slot) key() string {
	if s.Target == nil {
		return string(TierPooled)
	}
	return s.Target.Address().String()
}

// Empty reports whether no slot is active.
func (r *Registry) Empty() bool {
	for _, s := range r.slots {
		if s.Active {
			return false
		}
	}
	return true
}

// Slots returns a copy of every slot in order.
func (r *Registry) Slots() []Slot {
	return cloneSlots(r.slots)
}

// Active returns the active slots in order.
func (r *Registry) Active() []Slot {
	return r.filter(func(s Slot) bool { return true })
}

// Fast returns active Instant-class and Synchronous-class slots.
func (r *Registry) Fast() []Slot {
	return r.filter(func(s Slot) bool { return s.Tier.Fast() })
}

// ByTier returns active slots of one tier.
func (r *Registry) ByTier(t Tier) []Slot {
	return r.filter(func(s Slot) bool { return s.Tier == t })
}

// Pooled returns the active external-pooled slot, if any.
func (r *Registry) Pooled() (Slot, bool) {
	p := r.ByTier(TierPooled)
	if len(p) == 0 {
		return Slot{}, false
	}
	return p[0], true
}

func (r *Registry) filter(keep func(Slot) bool) []Slot {
	var out []Slot
	for _, s := range r.slots {
		if s.Active && keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func cloneSlots(in []Slot) []Slot {
	if in == nil {
		return nil
	}
	out := make([]Slot, len(in))
	copy(out, in)
	return out
}

// TargetAmounts splits deployable across the active slots by weight. Every
// slot but the last gets floor(deployable * weight / 10000); the last absorbs
// the rounding remainder so the parts always sum to deployable exactly.
func TargetAmounts(active []Slot, deployable sdkmath.Int) []sdkmath.Int {
	out := make([]sdkmath.Int, len(active))
	if len(active) == 0 {
		return out
	}
	allocated := sdkmath.ZeroInt()
	for i := 0; i < len(active)-1; i++ {
		out[i] = utils.MulBps(deployable, active[i].WeightBps)
		allocated = allocated.Add(out[i])
	}
	out[len(active)-1] = utils.SubFloorZero(deployable, allocated)
	return out
}
