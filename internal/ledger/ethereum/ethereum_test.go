package ethereum

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/ledger"
)

const wallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func TestPackEncodesAgainstABI(t *testing.T) {
	parsed, err := registryABI()
	require.NoError(t, err)

	calls := map[string]ledger.Call{
		"requestRegistration": ledger.RegisterActor(wallet, []string{"bafkreid7qoywk77r7rj3slobqfekdvs57qwuwh5d2z3sqsw52iabe3mqne"}),
		"verifyUser":          ledger.VerifyActor(wallet),
		"addOfficer":          ledger.AddCaseworker(wallet),
		"fileFIR": ledger.FileCase(ledger.FileCaseArgs{
			Number:      "2024000001",
			Category:    "theft",
			IncidentAt:  time.Unix(1700000000, 0),
			Location:    "Main St",
			Description: "bike stolen",
			Evidence:    []string{"bafy1"},
		}),
		"assignOfficerToFIR": ledger.AssignCaseworker("2024000001", wallet),
		"updateFIRStatus":    ledger.UpdateCaseStatus("2024000001", "in_progress", ""),
		"closeFIR":           ledger.UpdateCaseStatus("2024000001", "closed", "resolved"),
	}
	for want, call := range calls {
		method, args, err := Pack(call)
		require.NoError(t, err, want)
		assert.Equal(t, want, method)
		_, err = parsed.Pack(method, args...)
		assert.NoError(t, err, want)
	}
}

func TestPackAddressesFIRByCaseNumber(t *testing.T) {
	for _, call := range []ledger.Call{
		ledger.AssignCaseworker("2024000001", wallet),
		ledger.UpdateCaseStatus("2024000001", "rejected", ""),
		ledger.UpdateCaseStatus("2024000001", "closed", "resolved"),
	} {
		_, args, err := Pack(call)
		require.NoError(t, err, call.Method)
		require.NotEmpty(t, args)
		id, ok := args[0].(*big.Int)
		require.True(t, ok, call.Method)
		assert.Equal(t, "2024000001", id.String(), call.Method)
	}
}

func TestPackRejectsBadArguments(t *testing.T) {
	_, _, err := Pack(ledger.VerifyActor("not-a-wallet"))
	assert.Error(t, err)
	_, _, err = Pack(ledger.AssignCaseworker("CASE-1", wallet))
	assert.Error(t, err)
	_, _, err = Pack(ledger.Call{Method: "burn"})
	assert.Error(t, err)
}

type codedErr struct{ code int }

func (e codedErr) Error() string  { return "request rejected" }
func (e codedErr) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind ledger.Kind
	}{
		{errors.New("insufficient funds for gas * price + value"), ledger.KindInsufficientFunds},
		{errors.New("execution reverted: FIR already closed"), ledger.KindBusinessRuleRejected},
		{codedErr{code: 4001}, ledger.KindUserRejected},
		{errors.New("connection reset by peer"), ledger.KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, ledger.KindOf(classify(tc.err)), tc.err.Error())
	}
	le := classify(errors.New("execution reverted: FIR already closed")).(*ledger.Error)
	assert.Equal(t, "contract rejected: FIR already closed", le.Reason)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(nil, Config{ContractAddress: wallet, ChainID: 11155111, PrivateKeyHex: "zz"})
	assert.Error(t, err)
	l, err := New(nil, Config{ContractAddress: wallet, ChainID: 11155111, PrivateKeyHex: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"})
	require.NoError(t, err)
	assert.Len(t, l.Signer(), 42)
}
