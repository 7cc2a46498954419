// Package ledger defines the contract-call collaborator used by the workflow
// engine and the error classification shared by every backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Method string

const (
	MethodRegisterActor    Method = "register-actor"
	MethodVerifyActor      Method = "verify-actor"
	MethodAddCaseworker    Method = "add-caseworker"
	MethodFileCase         Method = "file-case"
	MethodUpdateCaseStatus Method = "update-case-status"
	MethodAssignCaseworker Method = "assign-caseworker"
)

// Call is one contract invocation. Argument order is fixed per method by the
// constructors below.
type Call struct {
	Method Method
	Args   []string
}

// Ledger submits a call and waits for its confirmation, returning the
// transaction id.
type Ledger interface {
	Invoke(ctx context.Context, call Call) (string, error)
}

// RegisterActor args: wallet, document refs...
func RegisterActor(wallet string, refs []string) Call {
	return Call{Method: MethodRegisterActor, Args: append([]string{wallet}, refs...)}
}

// VerifyActor args: wallet.
func VerifyActor(wallet string) Call {
	return Call{Method: MethodVerifyActor, Args: []string{wallet}}
}

// AddCaseworker args: wallet.
func AddCaseworker(wallet string) Call {
	return Call{Method: MethodAddCaseworker, Args: []string{wallet}}
}

type FileCaseArgs struct {
	Number           string
	SubmitterName    string
	SubmitterContact string
	Category         string
	IncidentAt       time.Time
	Location         string
	Description      string
	Evidence         []string
}

// FileCase args: number, submitter name, submitter contact, category,
// incident unix seconds, location, description, evidence refs...
func FileCase(a FileCaseArgs) Call {
	args := []string{
		a.Number,
		a.SubmitterName,
		a.SubmitterContact,
		a.Category,
		strconv.FormatInt(a.IncidentAt.Unix(), 10),
		a.Location,
		a.Description,
	}
	return Call{Method: MethodFileCase, Args: append(args, a.Evidence...)}
}

// AssignCaseworker args: case number, caseworker wallet.
func AssignCaseworker(number, wallet string) Call {
	return Call{Method: MethodAssignCaseworker, Args: []string{number, wallet}}
}

// UpdateCaseStatus args: case number, status, comment.
func UpdateCaseStatus(number, status, comment string) Call {
	return Call{Method: MethodUpdateCaseStatus, Args: []string{number, status, comment}}
}

// Arg returns the i-th argument or an error naming the method.
func (c Call) Arg(i int) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("%s: missing argument %d", c.Method, i)
	}
	return c.Args[i], nil
}

type Kind string

const (
	KindUserRejected         Kind = "user_rejected"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindTimeout              Kind = "timeout"
	KindBusinessRuleRejected Kind = "business_rule_rejected"
	KindUnknown              Kind = "unknown"
)

// Error is a classified ledger failure. Reason is safe to show to callers;
// Err keeps the transport error for logs.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func UserRejected(err error) *Error {
	return &Error{Kind: KindUserRejected, Reason: "transaction rejected by signer", Err: err}
}

func InsufficientFunds(err error) *Error {
	return &Error{Kind: KindInsufficientFunds, Reason: "insufficient funds to pay for the transaction", Err: err}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Reason: "ledger confirmation timed out", Err: err}
}

func BusinessRuleRejected(reason string, err error) *Error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "contract rejected the call"
	}
	return &Error{Kind: KindBusinessRuleRejected, Reason: reason, Err: err}
}

func Unknown(err error) *Error {
	return &Error{Kind: KindUnknown, Reason: "ledger call failed", Err: err}
}

// Cancelled reports a call abandoned by its caller before the ledger answered.
func Cancelled(err error) *Error {
	return &Error{Kind: KindUnknown, Reason: "request cancelled before ledger confirmation", Err: err}
}

// Classify wraps err into an *Error, keeping an existing classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	return Unknown(err)
}

// KindOf returns the classified kind of err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

type timeoutLedger struct {
	next    Ledger
	timeout time.Duration
}

// WithTimeout bounds every Invoke of next by d and reports overruns as KindTimeout.
func WithTimeout(next Ledger, d time.Duration) Ledger {
	if d <= 0 {
		return next
	}
	return timeoutLedger{next: next, timeout: d}
}

func (l timeoutLedger) Invoke(ctx context.Context, call Call) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	txID, err := l.next.Invoke(callCtx, call)
	if err == nil {
		return txID, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", Timeout(err)
	}
	return "", Classify(err)
}
