package events

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b}

	m.Emit(context.Background(), New(KindEpochSettled, 4, time.Unix(0, 0)))

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, a.Events()[0].ID, b.Events()[0].ID)
}

func TestNewHasUniqueIDsAndZeroAmounts(t *testing.T) {
	e1 := New(KindDeposit, 0, time.Now())
	e2 := New(KindDeposit, 0, time.Now())
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.True(t, e1.Assets.IsZero())
	assert.True(t, e1.Shares.IsZero())
	assert.True(t, e1.Fee.IsZero())
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: zerolog.New(&buf)}

	ev := New(KindWithdrawalPaid, 2, time.Unix(0, 0))
	ev.RequestID = 7
	ev.Assets = sdkmath.NewInt(981)
	ev.Message = "Withdrawal paid"
	s.Emit(context.Background(), ev)

	out := buf.String()
	assert.True(t, strings.Contains(out, `"event":"withdrawal_paid"`), out)
	assert.True(t, strings.Contains(out, `"assets":"981"`), out)
	assert.True(t, strings.Contains(out, `"requestID":7`), out)
}

func TestRecorderOfKind(t *testing.T) {
	r := &Recorder{}
	r.Emit(context.Background(), New(KindDeposit, 0, time.Now()))
	r.Emit(context.Background(), New(KindDepositQueued, 0, time.Now()))
	r.Emit(context.Background(), New(KindDeposit, 1, time.Now()))

	assert.Len(t, r.OfKind(KindDeposit), 2)
	r.Reset()
	assert.Empty(t, r.Events())
}
