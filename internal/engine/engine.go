package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/ledger"
	"caseline/internal/repo"
)

// Engine runs the case workflow against an injected store and ledger.
// A nil Ledger disables on-chain confirmation: every operation then completes
// with a skipped confirmation.
type Engine struct {
	Store  repo.Store
	Ledger ledger.Ledger
	Events events.Writer
	Config *config.Config
	Log    *logrus.Entry
	Now    func() time.Time

	verifying *keyLocks
}

func New(store repo.Store, l ledger.Ledger, cfg *config.Config, log *logrus.Entry) Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if l != nil {
		l = ledger.WithTimeout(l, cfg.LedgerTimeout())
	}
	e := Engine{
		Store:  store,
		Ledger: l,
		Config: cfg,
		Log:    log,
		Now:    time.Now,

		verifying: newKeyLocks(),
	}
	e.Events = events.Writer{Store: store, Now: e.now}
	return e
}

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrDuplicateActor      = errors.New("actor already registered")
	ErrDuplicateBadge      = errors.New("badge already in use")
	ErrDuplicateCaseworker = errors.New("actor already has a caseworker profile")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type ConfirmationState string

const (
	Confirmed   ConfirmationState = "confirmed"
	Unconfirmed ConfirmationState = "unconfirmed"
	Skipped     ConfirmationState = "skipped"
)

// Confirmation tells the caller whether a mutation reached the ledger.
// Unconfirmed means the store write stands but the ledger call failed.
type Confirmation struct {
	State  ConfirmationState
	TxID   string
	Kind   ledger.Kind
	Reason string
}

func confirmed(txID string) Confirmation {
	return Confirmation{State: Confirmed, TxID: txID}
}

func skipped() Confirmation {
	return Confirmation{State: Skipped}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log(op string) *logrus.Entry {
	if e.Log == nil {
		return logrus.WithField("operation", op)
	}
	return e.Log.WithField("operation", op)
}

// chainFirst invokes the ledger before any store write. A failure aborts the
// operation with the classified ledger error.
func (e Engine) chainFirst(ctx context.Context, op string, call ledger.Call) (Confirmation, error) {
	if e.Ledger == nil {
		return skipped(), nil
	}
	if err := ctx.Err(); err != nil {
		return Confirmation{}, ledger.Classify(err)
	}
	txID, err := e.Ledger.Invoke(ctx, call)
	if err != nil {
		le := ledger.Classify(err)
		e.log(op).WithFields(logrus.Fields{"method": call.Method, "kind": le.Kind}).WithError(err).Warn("ledger call failed; nothing written")
		return Confirmation{}, le
	}
	e.log(op).WithFields(logrus.Fields{"method": call.Method, "tx_id": txID}).Debug("ledger confirmed")
	return confirmed(txID), nil
}

// bestEffort invokes the ledger after the store write. Failures are reported
// in the returned confirmation, never as an error.
func (e Engine) bestEffort(ctx context.Context, op string, call ledger.Call) Confirmation {
	if e.Ledger == nil {
		return skipped()
	}
	txID, err := e.Ledger.Invoke(ctx, call)
	if err != nil {
		le := ledger.Classify(err)
		e.log(op).WithFields(logrus.Fields{"method": call.Method, "kind": le.Kind}).WithError(err).Warn("recorded but not confirmed on ledger")
		return Confirmation{State: Unconfirmed, Kind: le.Kind, Reason: le.Reason}
	}
	return confirmed(txID)
}

// emit appends a notification event. The outbox is not the audit trail, so a
// failure is logged and dropped.
func (e Engine) emit(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Store == nil {
		return
	}
	if _, err := e.Events.Append(context.WithoutCancel(ctx), evtType, entityKind, entityID, actorID, payload); err != nil {
		e.log("engine.emit").WithField("event", evtType).WithError(err).Warn("event append failed")
	}
}

// actingActor loads the actor performing an operation and checks perm.
func (e Engine) actingActor(ctx context.Context, actorID, perm string) (domain.Actor, error) {
	if actorID == "" {
		return domain.Actor{}, auth.ForbiddenError{Permission: perm}
	}
	a, err := e.Store.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, auth.ForbiddenError{Permission: perm}
		}
		return domain.Actor{}, err
	}
	if perm != "" {
		if err := auth.Require(a, perm); err != nil {
			return a, err
		}
	}
	return a, nil
}

// Authorize checks that actorID holds perm. Used by the HTTP layer for reads.
func (e Engine) Authorize(ctx context.Context, actorID, perm string) (domain.Actor, error) {
	return e.actingActor(ctx, actorID, perm)
}

// maxConflictRetries bounds re-reads when a write that must land (after a
// confirmed ledger call) races another writer.
const maxConflictRetries = 3

// retryOnConflict re-runs fn while it reports repo.ErrConflict.
func retryOnConflict(fn func() error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = fn()
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
	}
	return err
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
