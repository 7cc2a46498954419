package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process ledger that confirms every call immediately unless
// a failure is scripted for its method. It keeps the calls it confirmed.
type Memory struct {
	mu       sync.Mutex
	calls    []Call
	txIDs    []string
	failures map[Method][]error
	block    map[Method]bool
}

func NewMemory() *Memory {
	return &Memory{
		failures: make(map[Method][]error),
		block:    make(map[Method]bool),
	}
}

// FailNext makes the next call to method fail with err.
func (m *Memory) FailNext(method Method, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

// Block makes calls to method wait until their context is done.
func (m *Memory) Block(method Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block[method] = true
}

func (m *Memory) Invoke(ctx context.Context, call Call) (string, error) {
	m.mu.Lock()
	blocked := m.block[call.Method]
	var failure error
	if queue := m.failures[call.Method]; len(queue) > 0 {
		failure = queue[0]
		m.failures[call.Method] = queue[1:]
	}
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failure != nil {
		return "", failure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", len(m.calls), call.Method, strings.Join(call.Args, "|"))))
	txID := "0x" + hex.EncodeToString(sum[:])
	m.calls = append(m.calls, Call{Method: call.Method, Args: append([]string(nil), call.Args...)})
	m.txIDs = append(m.txIDs, txID)
	return txID, nil
}

// Calls returns the confirmed calls, optionally restricted to one method.
func (m *Memory) Calls(method Method) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Call
	for _, c := range m.calls {
		if method == "" || c.Method == method {
			res = append(res, c)
		}
	}
	return res
}

// LastTxID returns the id of the most recent confirmed call.
func (m *Memory) LastTxID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txIDs) == 0 {
		return ""
	}
	return m.txIDs[len(m.txIDs)-1]
}
