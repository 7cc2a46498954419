package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
)

func TestRolePermissions(t *testing.T) {
	admin := domain.Actor{Role: domain.RoleAdmin, Status: domain.VerificationVerified}
	cw := domain.Actor{Role: domain.RoleCaseworker, Status: domain.VerificationVerified}
	sub := domain.Actor{Role: domain.RoleSubmitter, Status: domain.VerificationVerified}
	pending := domain.Actor{Role: domain.RoleSubmitter, Status: domain.VerificationPending}

	assert.NoError(t, auth.Require(admin, auth.PermActorReject))
	assert.NoError(t, auth.Require(cw, auth.PermActorVerify))
	assert.Error(t, auth.Require(cw, auth.PermActorReject))
	assert.Error(t, auth.Require(cw, auth.PermCaseAssign))
	assert.NoError(t, auth.Require(sub, auth.PermCaseFile))
	assert.Error(t, auth.Require(pending, auth.PermCaseFile))

	err := auth.Require(sub, auth.PermCaseAssign)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, auth.PermCaseAssign, forbidden.Permission)
	assert.Empty(t, auth.Permissions(domain.RoleNone))
}

func sign(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), hexutil.Encode(sig)
}

func TestVerifyLogin(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	msg := auth.LoginMessage(wallet, now)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	require.NoError(t, auth.VerifyLogin(wallet, msg, hexutil.Encode(sig), now.Add(time.Minute)))
	assert.Error(t, auth.VerifyLogin(wallet, msg, hexutil.Encode(sig), now.Add(time.Hour)), "expired")

	otherWallet, otherSig := sign(t, msg)
	assert.NotEqual(t, wallet, otherWallet)
	assert.ErrorIs(t, auth.VerifyLogin(wallet, msg, otherSig, now), auth.ErrBadSignature)
	assert.Error(t, auth.VerifyLogin(wallet, "hello", hexutil.Encode(sig), now))
}

func TestRecoverSigner(t *testing.T) {
	wallet, sig := sign(t, "any message")
	got, err := auth.RecoverSigner("any message", sig)
	require.NoError(t, err)
	assert.Equal(t, wallet, got)
	_, err = auth.RecoverSigner("any message", "0x1234")
	assert.Error(t, err)
}
