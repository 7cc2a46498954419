package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"caseline/internal/domain"
)

const loginPrefix = "caseline login"

// LoginMaxAge bounds how old a signed login message may be.
const LoginMaxAge = 5 * time.Minute

var ErrBadSignature = errors.New("signature does not match wallet")

// LoginMessage is the text a wallet signs with personal_sign to log in.
func LoginMessage(wallet string, at time.Time) string {
	return fmt.Sprintf("%s %s %d", loginPrefix, strings.ToLower(wallet), at.Unix())
}

// VerifyLogin checks that message is a fresh login message for wallet and that
// signature (hex, 65 bytes) was produced by wallet's key.
func VerifyLogin(wallet, message, signature string, now time.Time) error {
	norm, ok := domain.NormalizeWallet(wallet)
	if !ok {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}
	parts := strings.Fields(message)
	if len(parts) != 4 || parts[0]+" "+parts[1] != loginPrefix || parts[2] != norm {
		return errors.New("malformed login message")
	}
	issued, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return errors.New("malformed login message timestamp")
	}
	age := now.Sub(time.Unix(issued, 0))
	if age > LoginMaxAge || age < -time.Minute {
		return errors.New("login message expired")
	}
	signer, err := RecoverSigner(message, signature)
	if err != nil {
		return err
	}
	if signer != norm {
		return ErrBadSignature
	}
	return nil
}

// RecoverSigner returns the lowercase address that personal_signed message.
func RecoverSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
