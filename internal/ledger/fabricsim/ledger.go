// Package fabricsim runs the case registry chaincode in-process on the
// Fabric shim mock stub and exposes it as a ledger.
package fabricsim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"caseline/internal/ledger"
)

type Ledger struct {
	mu   sync.Mutex
	stub *shimtest.MockStub
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(name string) (*Ledger, error) {
	if name == "" {
		name = "caseregistry"
	}
	cc, err := contractapi.NewChaincode(&CaseRegistry{})
	if err != nil {
		return nil, fmt.Errorf("create case registry chaincode: %w", err)
	}
	return &Ledger{stub: shimtest.NewMockStub(name, cc)}, nil
}

func (l *Ledger) Invoke(ctx context.Context, call ledger.Call) (string, error) {
	fn, args, err := encode(call)
	if err != nil {
		return "", ledger.BusinessRuleRejected(err.Error(), err)
	}
	if err := ctx.Err(); err != nil {
		return "", ledger.Classify(err)
	}
	txID := uuid.NewString()
	input := [][]byte{[]byte(fn)}
	for _, a := range args {
		input = append(input, []byte(a))
	}
	l.mu.Lock()
	resp := l.stub.MockInvoke(txID, input)
	l.mu.Unlock()
	if resp.Status != shim.OK {
		return "", ledger.BusinessRuleRejected("contract rejected: "+resp.Message, nil)
	}
	return txID, nil
}

// Query runs a read-only chaincode function and returns its payload.
func (l *Ledger) Query(fn string, args ...string) (string, error) {
	input := [][]byte{[]byte(fn)}
	for _, a := range args {
		input = append(input, []byte(a))
	}
	l.mu.Lock()
	resp := l.stub.MockInvoke(uuid.NewString(), input)
	l.mu.Unlock()
	if resp.Status != shim.OK {
		return "", fmt.Errorf("%s: %s", fn, resp.Message)
	}
	return string(resp.Payload), nil
}

func encode(call ledger.Call) (string, []string, error) {
	switch call.Method {
	case ledger.MethodRegisterActor:
		wallet, err := call.Arg(0)
		if err != nil {
			return "", nil, err
		}
		refs, _ := json.Marshal(call.Args[1:])
		return "RegisterActor", []string{wallet, string(refs)}, nil
	case ledger.MethodVerifyActor, ledger.MethodAddCaseworker:
		wallet, err := call.Arg(0)
		if err != nil {
			return "", nil, err
		}
		if call.Method == ledger.MethodAddCaseworker {
			return "AddCaseworker", []string{wallet}, nil
		}
		return "VerifyActor", []string{wallet}, nil
	case ledger.MethodFileCase:
		if len(call.Args) < 7 {
			return "", nil, fmt.Errorf("%s: expected at least 7 arguments", call.Method)
		}
		payload, err := json.Marshal(map[string]any{
			"category":    call.Args[3],
			"incident_at": call.Args[4],
			"location":    call.Args[5],
			"description": call.Args[6],
			"evidence":    call.Args[7:],
		})
		if err != nil {
			return "", nil, err
		}
		return "FileCase", []string{call.Args[0], string(payload)}, nil
	case ledger.MethodAssignCaseworker:
		if len(call.Args) != 2 {
			return "", nil, fmt.Errorf("%s: expected case number and wallet", call.Method)
		}
		return "AssignCaseworker", []string{call.Args[0], strings.ToLower(call.Args[1])}, nil
	case ledger.MethodUpdateCaseStatus:
		if len(call.Args) != 3 {
			return "", nil, fmt.Errorf("%s: expected case number, status and comment", call.Method)
		}
		return "UpdateCaseStatus", call.Args, nil
	}
	return "", nil, fmt.Errorf("unsupported ledger method %s", call.Method)
}
