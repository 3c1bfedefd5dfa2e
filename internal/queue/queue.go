// Package queue holds the epoch-scoped deposit escrow and the global FIFO of
// withdrawal requests, together with the counters that mirror them.
package queue

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrEmptyAddress   = errors.New("address is empty")
	ErrConsumeTooFar  = errors.New("cannot consume past the end of the withdrawal queue")
	ErrCounterOverrun = errors.New("queue counter overflow")
)

// compactThreshold is how many consumed requests may accumulate before the
// backing slice is trimmed.
const compactThreshold = 256

// DepositEntry is an escrowed deposit awaiting settlement of its epoch.
type DepositEntry struct {
	Depositor sdk.AccAddress
	Receiver  sdk.AccAddress
	NetAssets sdkmath.Int
}

// WithdrawalRequest is a queued claim. Its shares are already burned.
type WithdrawalRequest struct {
	ID       uint64
	Owner    sdk.AccAddress
	Receiver sdk.AccAddress
	Assets   sdkmath.Int
	Shares   sdkmath.Int
	Epoch    uint64
}

// Queue is not safe for concurrent use; the vault serialises access.
type Queue struct {
	deposits      map[uint64][]DepositEntry
	depositTotals map[uint64]sdkmath.Int
	totalDeposits sdkmath.Int

	withdrawals       []WithdrawalRequest
	head              int
	pendingWithdrawal sdkmath.Int
	nextID            uint64
}

func New() *Queue {
	return &Queue{
		deposits:          make(map[uint64][]DepositEntry),
		depositTotals:     make(map[uint64]sdkmath.Int),
		totalDeposits:     sdkmath.ZeroInt(),
		pendingWithdrawal: sdkmath.ZeroInt(),
		nextID:            1,
	}
}

// AddDeposit appends entry to the epoch's list and bumps both the epoch and
// the global pending counters.
func (q *Queue) AddDeposit(epoch uint64, entry DepositEntry) error {
	if entry.NetAssets.IsNil() || !entry.NetAssets.IsPositive() {
		return ErrInvalidAmount
	}
	if entry.Receiver.Empty() {
		return ErrEmptyAddress
	}

	epochTotal, ok := q.depositTotals[epoch]
	if !ok {
		epochTotal = sdkmath.ZeroInt()
	}
	epochTotal, err := epochTotal.SafeAdd(entry.NetAssets)
	if err != nil {
		return fmt.Errorf("%w: epoch %d deposits: %w", ErrCounterOverrun, epoch, err)
	}
	total, err := q.totalDeposits.SafeAdd(entry.NetAssets)
	if err != nil {
		return fmt.Errorf("%w: total pending deposits: %w", ErrCounterOverrun, err)
	}

	q.deposits[epoch] = append(q.deposits[epoch], entry)
	q.depositTotals[epoch] = epochTotal
	q.totalDeposits = total
	return nil
}

// Deposits returns a copy of the epoch's entries in insertion order.
func (q *Queue) Deposits(epoch uint64) []DepositEntry {
	entries := q.deposits[epoch]
	out := make([]DepositEntry, len(entries))
	copy(out, entries)
	return out
}

// EpochDepositTotal returns the pending net assets of one epoch.
func (q *Queue) EpochDepositTotal(epoch uint64) sdkmath.Int {
	if t, ok := q.depositTotals[epoch]; ok {
		return t
	}
	return sdkmath.ZeroInt()
}

// TotalPendingDeposits returns the net assets escrowed across all epochs.
func (q *Queue) TotalPendingDeposits() sdkmath.Int {
	return q.totalDeposits
}

// ClearEpoch drops the epoch's entries and counter, decrements the global
// counter by the epoch total (floored at zero) and returns that total.
func (q *Queue) ClearEpoch(epoch uint64) sdkmath.Int {
	epochTotal := q.EpochDepositTotal(epoch)
	delete(q.deposits, epoch)
	delete(q.depositTotals, epoch)

	if epochTotal.GTE(q.totalDeposits) {
		q.totalDeposits = sdkmath.ZeroInt()
	} else {
		q.totalDeposits = q.totalDeposits.Sub(epochTotal)
	}
	return epochTotal
}

// DepositEpochs lists epochs holding escrowed deposits, ascending.
func (q *Queue) DepositEpochs() []uint64 {
	out := make([]uint64, 0, len(q.deposits))
	for epoch, entries := range q.deposits {
		if len(entries) > 0 {
			out = append(out, epoch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enqueue appends a withdrawal request and adds its assets to the pending
// counter. IDs start at 1 and never repeat.
func (q *Queue) Enqueue(owner, receiver sdk.AccAddress, assets, shares sdkmath.Int, epoch uint64) (WithdrawalRequest, error) {
	if assets.IsNil() || !assets.IsPositive() || shares.IsNil() || !shares.IsPositive() {
		return WithdrawalRequest{}, ErrInvalidAmount
	}
	if receiver.Empty() || owner.Empty() {
		return WithdrawalRequest{}, ErrEmptyAddress
	}

	pending, err := q.pendingWithdrawal.SafeAdd(assets)
	if err != nil {
		return WithdrawalRequest{}, fmt.Errorf("%w: pending withdrawals: %w", ErrCounterOverrun, err)
	}

	req := WithdrawalRequest{
		ID:       q.nextID,
		Owner:    owner,
		Receiver: receiver,
		Assets:   assets,
		Shares:   shares,
		Epoch:    epoch,
	}
	q.nextID++
	q.withdrawals = append(q.withdrawals, req)
	q.pendingWithdrawal = pending
	return req, nil
}

// PendingWithdrawalAssets is the sum of assets over unconsumed requests.
func (q *Queue) PendingWithdrawalAssets() sdkmath.Int {
	return q.pendingWithdrawal
}

// Len is the number of unconsumed requests.
func (q *Queue) Len() int {
	return len(q.withdrawals) - q.head
}

// Pending returns a copy of the unconsumed requests in FIFO order.
func (q *Queue) Pending() []WithdrawalRequest {
	out := make([]WithdrawalRequest, q.Len())
	copy(out, q.withdrawals[q.head:])
	return out
}

// Position returns the zero-based distance of request id from the head.
// False means the request was paid or never existed.
func (q *Queue) Position(id uint64) (int, bool) {
	for i, req := range q.withdrawals[q.head:] {
		if req.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Eligible walks from the head and collects the contiguous prefix of
// requests that fit in available and were queued no later than maxEpoch.
// The walk stops at the first request that does not qualify; it never skips
// ahead to a smaller request and never fills a request partially.
func (q *Queue) Eligible(available sdkmath.Int, maxEpoch uint64) ([]WithdrawalRequest, sdkmath.Int) {
	total := sdkmath.ZeroInt()
	if available.IsNil() || !available.IsPositive() {
		return nil, total
	}

	remaining := available
	var out []WithdrawalRequest
	for _, req := range q.withdrawals[q.head:] {
		if req.Epoch > maxEpoch || req.Assets.GT(remaining) {
			break
		}
		remaining = remaining.Sub(req.Assets)
		total = total.Add(req.Assets)
		out = append(out, req)
	}
	return out, total
}

// Consume advances the head past n requests and removes their assets from
// the pending counter. It returns the assets consumed.
func (q *Queue) Consume(n int) (sdkmath.Int, error) {
	if n < 0 || n > q.Len() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d of %d", ErrConsumeTooFar, n, q.Len())
	}

	consumed := sdkmath.ZeroInt()
	for _, req := range q.withdrawals[q.head : q.head+n] {
		consumed = consumed.Add(req.Assets)
	}
	q.head += n

	if consumed.GTE(q.pendingWithdrawal) {
		q.pendingWithdrawal = sdkmath.ZeroInt()
	} else {
		q.pendingWithdrawal = q.pendingWithdrawal.Sub(consumed)
	}

	q.compact()
	return consumed, nil
}

func (q *Queue) compact() {
	if q.head < compactThreshold || q.head*2 < len(q.withdrawals) {
		return
	}
	rest := make([]WithdrawalRequest, q.Len())
	copy(rest, q.withdrawals[q.head:])
	q.withdrawals = rest
	q.head = 0
}
