package fabricsim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/ledger"
	"caseline/internal/ledger/fabricsim"
)

const officer = "0x00000000000000000000000000000000000000c1"

func TestCaseRegistryRules(t *testing.T) {
	l, err := fabricsim.New("")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Invoke(ctx, ledger.AssignCaseworker("2024000001", officer))
	require.Error(t, err)
	assert.Equal(t, ledger.KindBusinessRuleRejected, ledger.KindOf(err))

	txID, err := l.Invoke(ctx, ledger.AddCaseworker(officer))
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	_, err = l.Invoke(ctx, ledger.FileCase(ledger.FileCaseArgs{
		Number:      "2024000001",
		Category:    "theft",
		IncidentAt:  time.Unix(1700000000, 0),
		Location:    "Main St",
		Description: "bike stolen",
	}))
	require.NoError(t, err)

	_, err = l.Invoke(ctx, ledger.AssignCaseworker("2024000001", officer))
	require.NoError(t, err)
	_, err = l.Invoke(ctx, ledger.UpdateCaseStatus("2024000001", "closed", "resolved"))
	require.NoError(t, err)

	state, err := l.Query("GetCase", "2024000001")
	require.NoError(t, err)
	assert.Contains(t, state, `"status":"closed"`)

	_, err = l.Invoke(ctx, ledger.UpdateCaseStatus("2024000001", "in_progress", ""))
	require.Error(t, err)
	assert.Equal(t, ledger.KindBusinessRuleRejected, ledger.KindOf(err))
}

func TestRegisterTwiceRejected(t *testing.T) {
	l, err := fabricsim.New("registry")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = l.Invoke(ctx, ledger.RegisterActor(officer, []string{"bafy1"}))
	require.NoError(t, err)
	_, err = l.Invoke(ctx, ledger.RegisterActor(officer, nil))
	require.Error(t, err)
	_, err = l.Invoke(ctx, ledger.VerifyActor(officer))
	require.NoError(t, err)
	_, err = l.Invoke(ctx, ledger.VerifyActor(officer))
	require.NoError(t, err, "verification is idempotent on chain")
}
