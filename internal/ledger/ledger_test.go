package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/ledger"
)

func TestClassifyKeepsKind(t *testing.T) {
	err := ledger.InsufficientFunds(errors.New("rpc: insufficient funds for gas * price + value"))
	wrapped := errors.Join(errors.New("assign"), err)
	assert.Equal(t, ledger.KindInsufficientFunds, ledger.Classify(wrapped).Kind)
	assert.Equal(t, ledger.KindTimeout, ledger.Classify(context.DeadlineExceeded).Kind)
	unknown := ledger.Classify(errors.New("dial tcp 10.0.0.1:8545: connection refused"))
	assert.Equal(t, ledger.KindUnknown, unknown.Kind)
	assert.Equal(t, "ledger call failed", unknown.Reason)
	cancelled := ledger.Classify(fmt.Errorf("invoke: %w", context.Canceled))
	assert.Equal(t, ledger.KindUnknown, cancelled.Kind)
	assert.Equal(t, "request cancelled before ledger confirmation", cancelled.Reason)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.Nil(t, ledger.Classify(nil))
}

func TestMemoryRecordsAndFails(t *testing.T) {
	m := ledger.NewMemory()
	ctx := context.Background()
	m.FailNext(ledger.MethodVerifyActor, ledger.UserRejected(nil))

	_, err := m.Invoke(ctx, ledger.VerifyActor("0xabc"))
	require.Error(t, err)
	assert.Equal(t, ledger.KindUserRejected, ledger.KindOf(err))

	tx1, err := m.Invoke(ctx, ledger.VerifyActor("0xabc"))
	require.NoError(t, err)
	tx2, err := m.Invoke(ctx, ledger.VerifyActor("0xabc"))
	require.NoError(t, err)
	assert.NotEqual(t, tx1, tx2)
	assert.Equal(t, tx2, m.LastTxID())
	assert.Len(t, m.Calls(ledger.MethodVerifyActor), 2)
	assert.Empty(t, m.Calls(ledger.MethodFileCase))
}

func TestWithTimeout(t *testing.T) {
	m := ledger.NewMemory()
	m.Block(ledger.MethodAssignCaseworker)
	l := ledger.WithTimeout(m, 20*time.Millisecond)

	_, err := l.Invoke(context.Background(), ledger.AssignCaseworker("2024000001", "0xabc"))
	require.Error(t, err)
	assert.Equal(t, ledger.KindTimeout, ledger.KindOf(err))

	txID, err := l.Invoke(context.Background(), ledger.VerifyActor("0xabc"))
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
}

func TestFileCaseArgs(t *testing.T) {
	call := ledger.FileCase(ledger.FileCaseArgs{
		Number:      "2024000001",
		Category:    "theft",
		IncidentAt:  time.Unix(1700000000, 0),
		Location:    "Main St",
		Description: "bike",
		Evidence:    []string{"bafy1", "bafy2"},
	})
	assert.Equal(t, ledger.MethodFileCase, call.Method)
	ts, err := call.Arg(4)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", ts)
	assert.Equal(t, []string{"bafy1", "bafy2"}, call.Args[7:])
	_, err = ledger.VerifyActor("0xabc").Arg(1)
	assert.Error(t, err)
}
