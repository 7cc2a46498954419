// Package ethereum submits ledger calls to the case registry contract over
// JSON-RPC and waits for them to be mined.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"caseline/internal/domain"
	"caseline/internal/ledger"
)

type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKeyHex   string
}

// Backend is what the adapter needs from a node connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Ledger struct {
	backend  Backend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	// one signer, so nonces are handed out in order
	mu sync.Mutex
}

var _ ledger.Ledger = (*Ledger)(nil)

// Dial connects to cfg.RPCURL and binds the registry contract.
func Dial(ctx context.Context, cfg Config) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return New(client, cfg)
}

func New(backend Backend, cfg Config) (*Ledger, error) {
	parsed, err := registryABI()
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger signing key: %w", err)
	}
	address := common.HexToAddress(cfg.ContractAddress)
	return &Ledger{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		key:      key,
		chainID:  big.NewInt(cfg.ChainID),
	}, nil
}

// Signer returns the address transactions are sent from.
func (l *Ledger) Signer() string {
	return strings.ToLower(crypto.PubkeyToAddress(l.key.PublicKey).Hex())
}

func (l *Ledger) Invoke(ctx context.Context, call ledger.Call) (string, error) {
	method, args, err := Pack(call)
	if err != nil {
		return "", ledger.BusinessRuleRejected(err.Error(), err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return "", ledger.Unknown(err)
	}
	opts.Context = ctx

	l.mu.Lock()
	tx, err := l.contract.Transact(opts, method, args...)
	l.mu.Unlock()
	if err != nil {
		return "", classify(err)
	}
	receipt, err := bind.WaitMined(ctx, l.backend, tx)
	if err != nil {
		return "", classify(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", ledger.BusinessRuleRejected(fmt.Sprintf("transaction %s reverted", tx.Hash().Hex()), nil)
	}
	return tx.Hash().Hex(), nil
}

// Pack maps a ledger call onto the registry contract method and its typed
// arguments.
//
// Case calls address the FIR by the off-chain case number ({year}{seq} read
// as a uint256). fileFIR carries no id, so the deployed registry must key
// FIRs by that number for assign, update and close to reach the filed record.
func Pack(call ledger.Call) (string, []any, error) {
	switch call.Method {
	case ledger.MethodRegisterActor:
		if _, err := address(call, 0); err != nil {
			return "", nil, err
		}
		return "requestRegistration", []any{hashes(call.Args[1:])}, nil
	case ledger.MethodVerifyActor:
		addr, err := address(call, 0)
		if err != nil {
			return "", nil, err
		}
		return "verifyUser", []any{addr}, nil
	case ledger.MethodAddCaseworker:
		addr, err := address(call, 0)
		if err != nil {
			return "", nil, err
		}
		return "addOfficer", []any{addr}, nil
	case ledger.MethodFileCase:
		if len(call.Args) < 7 {
			return "", nil, fmt.Errorf("%s: expected at least 7 arguments", call.Method)
		}
		ts, err := strconv.ParseInt(call.Args[4], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%s: incident time: %w", call.Method, err)
		}
		return "fileFIR", []any{
			call.Args[1],
			call.Args[2],
			call.Args[3],
			big.NewInt(ts),
			call.Args[5],
			call.Args[6],
			[]string{},
			[]string{},
			[]string{},
			hashes(call.Args[7:]),
		}, nil
	case ledger.MethodAssignCaseworker:
		id, err := caseID(call)
		if err != nil {
			return "", nil, err
		}
		addr, err := address(call, 1)
		if err != nil {
			return "", nil, err
		}
		return "assignOfficerToFIR", []any{id, addr}, nil
	case ledger.MethodUpdateCaseStatus:
		id, err := caseID(call)
		if err != nil {
			return "", nil, err
		}
		status, err := call.Arg(1)
		if err != nil {
			return "", nil, err
		}
		if domain.CaseStatus(status) == domain.CaseClosed {
			comment, _ := call.Arg(2)
			return "closeFIR", []any{id, comment}, nil
		}
		return "updateFIRStatus", []any{id, status}, nil
	}
	return "", nil, fmt.Errorf("unsupported ledger method %s", call.Method)
}

func address(call ledger.Call, i int) (common.Address, error) {
	v, err := call.Arg(i)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", call.Method, v)
	}
	return common.HexToAddress(v), nil
}

// caseID reads the case number in argument 0 as the on-chain FIR id.
func caseID(call ledger.Call) (*big.Int, error) {
	v, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	id, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("%s: case number %q is not numeric", call.Method, v)
	}
	return id, nil
}

// hashes commits content ids as bytes32 keccak digests.
func hashes(refs []string) [][32]byte {
	out := make([][32]byte, 0, len(refs))
	for _, ref := range refs {
		out = append(out, crypto.Keccak256Hash([]byte(ref)))
	}
	return out
}

// userRejectedCode is the EIP-1193 code for a signer refusing a request.
const userRejectedCode = 4001

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.Timeout(err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return ledger.UserRejected(err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ledger.InsufficientFunds(err)
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "user rejected"):
		return ledger.UserRejected(err)
	case strings.Contains(msg, "execution reverted"):
		return ledger.BusinessRuleRejected(revertReason(err), err)
	}
	return ledger.Unknown(err)
}

func revertReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted:"); i >= 0 {
		return "contract rejected: " + strings.TrimSpace(msg[i+len("execution reverted:"):])
	}
	return "contract rejected the call"
}
