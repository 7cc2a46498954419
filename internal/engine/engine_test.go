package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/ledger"
	"caseline/internal/repo"
	"caseline/internal/repo/memrepo"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Store  *memrepo.Store
	Ledger *ledger.Memory
	Ctx    context.Context
	Admin  domain.Actor
}

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := memrepo.New()
	mem := ledger.NewMemory()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := config.Default(wallet(1))
	eng := engine.New(store, mem, cfg, logrus.NewEntry(logger))
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	admin, err := eng.EnsureAdmin(ctx, wallet(1))
	require.NoError(t, err)
	return testEnv{Engine: eng, Store: store, Ledger: mem, Ctx: ctx, Admin: admin}
}

func (env testEnv) submitter(t *testing.T, n int) domain.Actor {
	t.Helper()
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{
		Wallet:       wallet(n),
		Name:         fmt.Sprintf("Submitter %d", n),
		Phone:        "555-0100",
		DocumentRefs: []string{fmt.Sprintf("bafy-id-%d", n)},
	})
	require.NoError(t, err)
	a, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	require.NoError(t, err)
	return a
}

func (env testEnv) caseworker(t *testing.T, n int, badge string) domain.CaseworkerDetails {
	t.Helper()
	cw, _, err := env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID:   env.Admin.ID,
		Wallet:     wallet(n),
		Name:       "Officer " + badge,
		Badge:      badge,
		Department: "Central",
	})
	require.NoError(t, err)
	return cw
}

func (env testEnv) fileCase(t *testing.T, submitterID string) domain.Case {
	t.Helper()
	c, _, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID:     submitterID,
		Category:    "theft",
		IncidentAt:  fixedNow.Add(-48 * time.Hour),
		Location:    "Main St",
		Description: "bicycle stolen",
	})
	require.NoError(t, err)
	return c
}

func TestRegisterActor(t *testing.T) {
	env := newTestEnv(t)
	a, conf, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{
		Wallet:       wallet(2),
		Name:         "Ana",
		DocumentRefs: []string{"bafy-a", "bafy-b"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, a.Status)
	assert.Equal(t, domain.RoleNone, a.Role)
	assert.Equal(t, []string{"bafy-a", "bafy-b"}, a.DocumentRefs)
	assert.Equal(t, engine.Confirmed, conf.State)
	calls := env.Ledger.Calls(ledger.MethodRegisterActor)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{wallet(2), "bafy-a", "bafy-b"}, calls[0].Args)

	_, _, err = env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: fmt.Sprintf("0x%040X", 2)})
	assert.ErrorIs(t, err, engine.ErrDuplicateActor)

	_, _, err = env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: "not-a-wallet"})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "wallet", verr.Field)

	found, ok, err := env.Engine.ResolveActor(env.Ctx, wallet(2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, found.Actor.ID)
	assert.Nil(t, found.Caseworker)

	_, ok, err = env.Engine.ResolveActor(env.Ctx, wallet(99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterActorLedgerFailureKeepsStoreWrite(t *testing.T) {
	env := newTestEnv(t)
	env.Ledger.FailNext(ledger.MethodRegisterActor, ledger.InsufficientFunds(errors.New("balance 0")))
	a, conf, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)
	assert.Equal(t, engine.Unconfirmed, conf.State)
	assert.Equal(t, ledger.KindInsufficientFunds, conf.Kind)
	assert.NotEmpty(t, conf.Reason)

	stored, err := env.Store.GetActor(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, stored.Status)
}

func TestVerificationIsChainFirst(t *testing.T) {
	env := newTestEnv(t)
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)

	env.Ledger.FailNext(ledger.MethodVerifyActor, ledger.UserRejected(errors.New("denied")))
	_, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	require.Error(t, err)
	assert.Equal(t, ledger.KindUserRejected, ledger.KindOf(err))
	stored, err := env.Store.GetActor(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, stored.Status)
	assert.Equal(t, domain.RoleNone, stored.Role)

	verified, conf, err := env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	require.NoError(t, err)
	assert.Equal(t, engine.Confirmed, conf.State)
	assert.Equal(t, env.Ledger.LastTxID(), conf.TxID)
	assert.Equal(t, domain.VerificationVerified, verified.Status)
	assert.Equal(t, domain.RoleSubmitter, verified.Role)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, env.Admin.ID, *verified.VerifiedBy)
	require.NotNil(t, verified.VerifiedAt)

	again, conf, err := env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, conf.State)
	assert.Equal(t, verified.Version, again.Version)
	assert.Len(t, env.Ledger.Calls(ledger.MethodVerifyActor), 1)

	_, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationRejected)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestVerificationTimeoutLeavesActorPending(t *testing.T) {
	env := newTestEnv(t)
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)
	env.Ledger.Block(ledger.MethodVerifyActor)
	env.Engine.Ledger = ledger.WithTimeout(env.Ledger, 20*time.Millisecond)

	_, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	require.Error(t, err)
	assert.Equal(t, ledger.KindTimeout, ledger.KindOf(err))
	stored, err := env.Store.GetActor(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, stored.Status)
}

func TestRejectionSkipsLedger(t *testing.T) {
	env := newTestEnv(t)
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)
	rejected, conf, err := env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationRejected)
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, conf.State)
	assert.Equal(t, domain.VerificationRejected, rejected.Status)
	assert.Equal(t, domain.RoleNone, rejected.Role)
	assert.Empty(t, env.Ledger.Calls(ledger.MethodVerifyActor))

	_, _, err = env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID: a.ID, Category: "theft", IncidentAt: fixedNow, Location: "x", Description: "y",
	})
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	_, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	_, _, err = env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationPending)
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCaseworkerMayVerifyButNotReject(t *testing.T) {
	env := newTestEnv(t)
	cw := env.caseworker(t, 10, "B-10")
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)

	_, _, err = env.Engine.SetVerification(env.Ctx, cw.Actor.ID, a.ID, domain.VerificationRejected)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, auth.PermActorReject, forbidden.Permission)

	verified, _, err := env.Engine.SetVerification(env.Ctx, cw.Actor.ID, a.ID, domain.VerificationVerified)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationVerified, verified.Status)

	_, _, err = env.Engine.SetVerification(env.Ctx, verified.ID, cw.Actor.ID, domain.VerificationVerified)
	assert.ErrorAs(t, err, &forbidden)

	pending, err := env.Engine.ListPending(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateCaseworker(t *testing.T) {
	env := newTestEnv(t)
	cw := env.caseworker(t, 10, "B-10")
	assert.Equal(t, domain.RoleCaseworker, cw.Actor.Role)
	assert.Equal(t, domain.VerificationVerified, cw.Actor.Status)
	assert.Equal(t, cw.Actor.ID, cw.Caseworker.ActorID)
	require.Len(t, env.Ledger.Calls(ledger.MethodAddCaseworker), 1)

	_, _, err := env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, Wallet: wallet(11), Name: "Dup", Badge: "B-10", Department: "North",
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateBadge)

	_, _, err = env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, ActorID: cw.Actor.ID, Name: "Again", Badge: "B-99", Department: "North",
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateCaseworker)

	_, _, err = env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, ActorID: env.Admin.ID, Name: "Boss", Badge: "B-1", Department: "HQ",
	})
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, _, err = env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: cw.Actor.ID, Wallet: wallet(12), Name: "Self", Badge: "B-12", Department: "HQ",
	})
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	// An existing submitter is promoted rather than duplicated.
	sub := env.submitter(t, 20)
	promoted, _, err := env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, ActorID: sub.ID, Name: "Promoted", Badge: "B-20", Department: "South",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCaseworker, promoted.Actor.Role)
	assert.Equal(t, sub.VerifiedAt, promoted.Actor.VerifiedAt)

	list, err := env.Engine.ListCaseworkers(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCreateCaseworkerLedgerFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Ledger.FailNext(ledger.MethodAddCaseworker, ledger.BusinessRuleRejected("contract rejected: not owner", nil))
	_, _, err := env.Engine.CreateCaseworker(env.Ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, Wallet: wallet(10), Name: "Officer", Badge: "B-10", Department: "Central",
	})
	require.Error(t, err)
	assert.Equal(t, ledger.KindBusinessRuleRejected, ledger.KindOf(err))

	_, err = env.Store.GetActorByWallet(env.Ctx, wallet(10))
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Store.GetCaseworkerByBadge(env.Ctx, "B-10")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestFileCase(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	c, conf, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID:      sub.ID,
		Category:     "theft",
		IncidentAt:   fixedNow.Add(-time.Hour),
		Location:     "Main St",
		Description:  "wallet stolen",
		EvidenceRefs: []string{"bafy-photo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2024000001", c.Number)
	assert.Equal(t, domain.CasePending, c.Status)
	assert.Equal(t, []string{"bafy-photo"}, c.EvidenceRefs)
	assert.Equal(t, engine.Confirmed, conf.State)
	require.NotNil(t, c.TxID)
	assert.Equal(t, conf.TxID, *c.TxID)

	calls := env.Ledger.Calls(ledger.MethodFileCase)
	require.Len(t, calls, 1)
	assert.Equal(t, "2024000001", calls[0].Args[0])
	assert.Equal(t, "555-0100", calls[0].Args[2])
	assert.Equal(t, "bafy-photo", calls[0].Args[7])

	updates, err := env.Engine.ListCaseUpdates(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, updates)

	second := env.fileCase(t, sub.ID)
	assert.Equal(t, "2024000002", second.Number)
}

func TestFileCaseValidation(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	base := engine.FileCaseOptions{
		ActorID: sub.ID, Category: "theft", IncidentAt: fixedNow.Add(-time.Hour), Location: "x", Description: "y",
	}
	cases := map[string]func(o *engine.FileCaseOptions){
		"category":    func(o *engine.FileCaseOptions) { o.Category = "alien abduction" },
		"incident_at": func(o *engine.FileCaseOptions) { o.IncidentAt = fixedNow.Add(time.Hour) },
		"location":    func(o *engine.FileCaseOptions) { o.Location = "  " },
		"description": func(o *engine.FileCaseOptions) { o.Description = "" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			opts := base
			mutate(&opts)
			_, _, err := env.Engine.FileCase(env.Ctx, opts)
			var verr *engine.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
		})
	}

	_, _, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID: env.Admin.ID, Category: "theft", IncidentAt: fixedNow, Location: "x", Description: "y",
	})
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestFileCaseLedgerFailureIsUnconfirmed(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	env.Ledger.FailNext(ledger.MethodFileCase, errors.New("rpc down"))
	c, conf, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID: sub.ID, Category: "fraud", IncidentAt: fixedNow, Location: "x", Description: "y",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Unconfirmed, conf.State)
	assert.Equal(t, ledger.KindUnknown, conf.Kind)
	assert.Nil(t, c.TxID)
	_, err = env.Store.GetCase(env.Ctx, c.ID)
	assert.NoError(t, err)
}

func TestConcurrentFilingYieldsDistinctNumbers(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	const n = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
				ActorID: sub.ID, Category: "theft", IncidentAt: fixedNow, Location: "x", Description: "y",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[c.Number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, numbers, n)
}

// Submit, verify, create caseworker, assign, close.
func TestCaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	cw := env.caseworker(t, 10, "B-10")
	c := env.fileCase(t, sub.ID)

	assigned, conf, err := env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Confirmed, conf.State)
	assert.Equal(t, domain.CaseInProgress, assigned.Status)
	require.NotNil(t, assigned.AssignedCaseworkerID)
	assert.Equal(t, cw.Caseworker.ID, *assigned.AssignedCaseworkerID)
	calls := env.Ledger.Calls(ledger.MethodAssignCaseworker)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{c.Number, wallet(10)}, calls[0].Args)

	// Re-assigning the same caseworker is a no-op.
	_, conf, err = env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, conf.State)
	assert.Len(t, env.Ledger.Calls(ledger.MethodAssignCaseworker), 1)

	closed, upd, conf, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: cw.Actor.ID, CaseID: c.ID, Status: domain.CaseClosed, Comment: "recovered",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Confirmed, conf.State)
	assert.Equal(t, domain.CaseClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.GreaterOrEqual(t, *closed.ClosedAt, closed.CreatedAt)
	require.NotNil(t, closed.ClosingComments)
	assert.Equal(t, "recovered", *closed.ClosingComments)
	assert.Equal(t, domain.CaseInProgress, upd.PreviousStatus)
	require.NotNil(t, upd.TxID)
	assert.Equal(t, conf.TxID, *upd.TxID)
	assert.Equal(t, []string{c.Number, "closed", "recovered"}, env.Ledger.Calls(ledger.MethodUpdateCaseStatus)[0].Args)

	details, ok, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sub.ID, details.Submitter.ID)
	require.NotNil(t, details.Caseworker)
	assert.Equal(t, 0, details.Caseworker.ActiveCases)
	assert.Equal(t, 1, details.Caseworker.ClosedCases)
	require.Len(t, details.Updates, 2)
	assert.Equal(t, details.Case.Status, details.Updates[0].NewStatus, "latest audit entry matches status")
	assert.Greater(t, details.Updates[0].Seq, details.Updates[1].Seq)

	_, _, _, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: env.Admin.ID, CaseID: c.ID, Status: domain.CaseInProgress,
	})
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, _, err = env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	stats, err := env.Engine.Stats(env.Ctx, env.Admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCases)
	assert.Equal(t, 1, stats.ClosedCases)
	assert.Equal(t, 1, stats.Caseworkers)
	assert.Equal(t, 0, stats.PendingVerifications)
	assert.Equal(t, 1, stats.CasesByStatus[domain.CaseClosed])
	assert.Equal(t, 0, stats.CasesByStatus[domain.CasePending])
}

func TestAssignmentLedgerFailureLeavesCaseUntouched(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	cw := env.caseworker(t, 10, "B-10")
	c := env.fileCase(t, sub.ID)
	env.Ledger.FailNext(ledger.MethodAssignCaseworker, ledger.BusinessRuleRejected("contract rejected: not an officer", nil))

	_, _, err := env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
	require.Error(t, err)
	stored, err := env.Store.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CasePending, stored.Status)
	assert.Nil(t, stored.AssignedCaseworkerID)
	updates, err := env.Store.ListCaseUpdates(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	cwA := env.caseworker(t, 10, "B-10")
	cwB := env.caseworker(t, 11, "B-11")
	c := env.fileCase(t, sub.ID)
	_, _, err := env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, c.ID, cwA.Caseworker.ID)
	require.NoError(t, err)

	var forbidden auth.ForbiddenError
	for _, actorID := range []string{sub.ID, cwB.Actor.ID, "ghost"} {
		_, _, _, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
			ActorID: actorID, CaseID: c.ID, Status: domain.CaseClosed,
		})
		assert.ErrorAs(t, err, &forbidden, actorID)
	}
	stored, err := env.Store.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseInProgress, stored.Status)

	// Re-asserting the current status records a comment.
	same, upd, _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: cwA.Actor.ID, CaseID: c.ID, Status: domain.CaseInProgress, Comment: "called witness",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseInProgress, same.Status)
	assert.Equal(t, upd.PreviousStatus, upd.NewStatus)
	assert.Nil(t, same.ClosedAt)

	_, _, _, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: env.Admin.ID, CaseID: c.ID, Status: "archived",
	})
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, _, _, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: env.Admin.ID, CaseID: "missing", Status: domain.CaseRejected,
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdateStatusLedgerFailureStillAudits(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	c := env.fileCase(t, sub.ID)
	env.Ledger.FailNext(ledger.MethodUpdateCaseStatus, ledger.Timeout(context.DeadlineExceeded))

	updated, upd, conf, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: env.Admin.ID, CaseID: c.ID, Status: domain.CaseRejected, Comment: "duplicate report",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseRejected, updated.Status)
	assert.Nil(t, updated.ClosedAt)
	assert.Equal(t, engine.Unconfirmed, conf.State)
	assert.Equal(t, ledger.KindTimeout, conf.Kind)
	assert.Nil(t, upd.TxID)
	assert.Equal(t, domain.CasePending, upd.PreviousStatus)
}

func TestDisabledLedgerSkipsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Ledger = nil
	sub := env.submitter(t, 2)
	c, conf, err := env.Engine.FileCase(env.Ctx, engine.FileCaseOptions{
		ActorID: sub.ID, Category: "theft", IncidentAt: fixedNow, Location: "x", Description: "y",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, conf.State)
	assert.Nil(t, c.TxID)
	assert.Empty(t, env.Ledger.Calls(""))
}

func TestListCasesScopes(t *testing.T) {
	env := newTestEnv(t)
	subA := env.submitter(t, 2)
	subB := env.submitter(t, 3)
	cw := env.caseworker(t, 10, "B-10")
	first := env.fileCase(t, subA.ID)
	env.fileCase(t, subB.ID)
	_, _, err := env.Engine.AssignCaseworker(env.Ctx, env.Admin.ID, first.ID, cw.Caseworker.ID)
	require.NoError(t, err)

	all, err := env.Engine.ListCases(env.Ctx, repo.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := env.Engine.ListCases(env.Ctx, repo.CaseFilter{SubmitterID: subA.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].Case.ID)

	assigned, err := env.Engine.ListCases(env.Ctx, repo.CaseFilter{CaseworkerID: cw.Caseworker.ID})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, 1, assigned[0].Caseworker.ActiveCases)

	_, ok, err := env.Engine.GetCase(env.Ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	f, err := env.Engine.CaseScope(env.Ctx, env.Admin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, repo.CaseFilter{}, f)
	f, err = env.Engine.CaseScope(env.Ctx, cw.Actor.ID, "")
	require.NoError(t, err)
	assert.Equal(t, cw.Caseworker.ID, f.CaseworkerID)
	f, err = env.Engine.CaseScope(env.Ctx, subA.ID, "")
	require.NoError(t, err)
	assert.Equal(t, subA.ID, f.SubmitterID)

	_, err = env.Engine.CaseScope(env.Ctx, subA.ID, engine.ScopeAll)
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.CaseScope(env.Ctx, subA.ID, engine.ScopeAssigned)
	assert.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.CaseScope(env.Ctx, subA.ID, "everything")
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	other := env.submitter(t, 3)
	c := env.fileCase(t, sub.ID)

	a, err := env.Engine.AddActorDocument(env.Ctx, sub.ID, sub.ID, "bafy-license", "license.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"bafy-id-2", "bafy-license"}, a.DocumentRefs)

	_, err = env.Engine.AddActorDocument(env.Ctx, other.ID, sub.ID, "bafy-x", "")
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	withEvidence, err := env.Engine.AttachEvidence(env.Ctx, sub.ID, c.ID, "bafy-photo", "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"bafy-photo"}, withEvidence.EvidenceRefs)

	_, err = env.Engine.AttachEvidence(env.Ctx, other.ID, c.ID, "bafy-y", "")
	assert.ErrorAs(t, err, &forbidden)

	_, err = env.Engine.AttachEvidence(env.Ctx, sub.ID, c.ID, " ", "")
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEventsAreEmitted(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	env.fileCase(t, sub.ID)
	evts, err := env.Store.EventsAfter(env.Ctx, 10, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(evts))
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"actor.registered", "actor.verified", "case.filed"}, types)
}

// gatedLedger holds the first call to method until release is closed.
type gatedLedger struct {
	*ledger.Memory
	method  ledger.Method
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedLedger(mem *ledger.Memory, method ledger.Method) *gatedLedger {
	return &gatedLedger{Memory: mem, method: method, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLedger) Invoke(ctx context.Context, call ledger.Call) (string, error) {
	held := false
	if call.Method == g.method {
		g.once.Do(func() { held = true })
	}
	if held {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Invoke(ctx, call)
}

// cancellingLedger cancels the caller's context as soon as the ledger answers.
type cancellingLedger struct {
	*ledger.Memory
	cancel context.CancelFunc
}

func (l cancellingLedger) Invoke(ctx context.Context, call ledger.Call) (string, error) {
	txID, err := l.Memory.Invoke(ctx, call)
	l.cancel()
	return txID, err
}

func TestSlowLedgerKeepsHistoryInStatusOrder(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	c := env.fileCase(t, sub.ID)
	gate := newGatedLedger(env.Ledger, ledger.MethodUpdateCaseStatus)
	env.Engine.Ledger = gate

	done := make(chan error, 1)
	go func() {
		_, _, _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
			ActorID: env.Admin.ID, CaseID: c.ID, Status: domain.CaseInProgress, Comment: "opened",
		})
		done <- err
	}()
	<-gate.entered

	rejected, _, conf, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusOptions{
		ActorID: env.Admin.ID, CaseID: c.ID, Status: domain.CaseRejected, Comment: "duplicate report",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.Confirmed, conf.State)
	assert.Equal(t, domain.CaseRejected, rejected.Status)

	close(gate.release)
	require.NoError(t, <-done)

	details, ok, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.CaseRejected, details.Case.Status)
	require.Len(t, details.Updates, 2)
	assert.Equal(t, details.Case.Status, details.Updates[0].NewStatus, "latest audit entry matches status")
	assert.Equal(t, domain.CaseInProgress, details.Updates[0].PreviousStatus)
	assert.Equal(t, domain.CaseInProgress, details.Updates[1].NewStatus)
	assert.Greater(t, details.Updates[0].CaseVersion, details.Updates[1].CaseVersion)
}

func TestConfirmedChainFirstWritesSurviveCancellation(t *testing.T) {
	t.Run("assign", func(t *testing.T) {
		env := newTestEnv(t)
		sub := env.submitter(t, 2)
		cw := env.caseworker(t, 10, "B-10")
		c := env.fileCase(t, sub.ID)
		ctx, cancel := context.WithCancel(env.Ctx)
		defer cancel()
		env.Engine.Ledger = cancellingLedger{Memory: env.Ledger, cancel: cancel}

		assigned, conf, err := env.Engine.AssignCaseworker(ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
		require.NoError(t, err)
		require.Error(t, ctx.Err())
		assert.Equal(t, engine.Confirmed, conf.State)
		assert.Equal(t, domain.CaseInProgress, assigned.Status)

		stored, err := env.Store.GetCase(env.Ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CaseInProgress, stored.Status)
		require.NotNil(t, stored.AssignedCaseworkerID)
		assert.Equal(t, cw.Caseworker.ID, *stored.AssignedCaseworkerID)
		updates, err := env.Store.ListCaseUpdates(env.Ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, updates, 1)
	})

	t.Run("verify", func(t *testing.T) {
		env := newTestEnv(t)
		a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(env.Ctx)
		defer cancel()
		env.Engine.Ledger = cancellingLedger{Memory: env.Ledger, cancel: cancel}

		_, conf, err := env.Engine.SetVerification(ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
		require.NoError(t, err)
		require.Error(t, ctx.Err())
		assert.Equal(t, engine.Confirmed, conf.State)
		stored, err := env.Store.GetActor(env.Ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.VerificationVerified, stored.Status)
		assert.Equal(t, domain.RoleSubmitter, stored.Role)
	})

	t.Run("create caseworker", func(t *testing.T) {
		env := newTestEnv(t)
		ctx, cancel := context.WithCancel(env.Ctx)
		defer cancel()
		env.Engine.Ledger = cancellingLedger{Memory: env.Ledger, cancel: cancel}

		_, conf, err := env.Engine.CreateCaseworker(ctx, engine.CaseworkerOptions{
			ActingID: env.Admin.ID, Wallet: wallet(10), Name: "Officer", Badge: "B-10", Department: "Central",
		})
		require.NoError(t, err)
		require.Error(t, ctx.Err())
		assert.Equal(t, engine.Confirmed, conf.State)
		cw, err := env.Store.GetCaseworkerByBadge(env.Ctx, "B-10")
		require.NoError(t, err)
		a, err := env.Store.GetActor(env.Ctx, cw.ActorID)
		require.NoError(t, err)
		assert.Equal(t, wallet(10), a.Wallet)
		assert.Equal(t, domain.RoleCaseworker, a.Role)
		assert.Equal(t, domain.VerificationVerified, a.Status)
	})
}

func TestCancelledRequestWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	sub := env.submitter(t, 2)
	cw := env.caseworker(t, 10, "B-10")
	c := env.fileCase(t, sub.ID)
	pending, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(3)})
	require.NoError(t, err)
	verifyCalls := len(env.Ledger.Calls(ledger.MethodVerifyActor))
	addCalls := len(env.Ledger.Calls(ledger.MethodAddCaseworker))
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()

	_, _, err = env.Engine.AssignCaseworker(ctx, env.Admin.ID, c.ID, cw.Caseworker.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ledger.KindUnknown, ledger.KindOf(err))
	stored, err := env.Store.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CasePending, stored.Status)
	assert.Nil(t, stored.AssignedCaseworkerID)

	_, _, err = env.Engine.SetVerification(ctx, env.Admin.ID, pending.ID, domain.VerificationVerified)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ledger.KindUnknown, ledger.KindOf(err))
	actor, err := env.Store.GetActor(env.Ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, actor.Status)

	_, _, err = env.Engine.CreateCaseworker(ctx, engine.CaseworkerOptions{
		ActingID: env.Admin.ID, Wallet: wallet(11), Name: "Officer", Badge: "B-11", Department: "North",
	})
	require.ErrorIs(t, err, context.Canceled)
	_, err = env.Store.GetActorByWallet(env.Ctx, wallet(11))
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Store.GetCaseworkerByBadge(env.Ctx, "B-11")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.Len(t, env.Ledger.Calls(ledger.MethodAssignCaseworker), 0)
	assert.Len(t, env.Ledger.Calls(ledger.MethodVerifyActor), verifyCalls)
	assert.Len(t, env.Ledger.Calls(ledger.MethodAddCaseworker), addCalls)
}

func TestConcurrentVerificationCallsLedgerOnce(t *testing.T) {
	env := newTestEnv(t)
	a, _, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Wallet: wallet(2)})
	require.NoError(t, err)
	gate := newGatedLedger(env.Ledger, ledger.MethodVerifyActor)
	env.Engine.Ledger = gate

	first := make(chan error, 1)
	go func() {
		_, _, err := env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
		first <- err
	}()
	<-gate.entered

	second := make(chan engine.Confirmation, 1)
	go func() {
		_, conf, err := env.Engine.SetVerification(env.Ctx, env.Admin.ID, a.ID, domain.VerificationVerified)
		assert.NoError(t, err)
		second <- conf
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	require.NoError(t, <-first)
	assert.Equal(t, engine.Skipped, (<-second).State)
	assert.Len(t, env.Ledger.Calls(ledger.MethodVerifyActor), 1)
	stored, err := env.Store.GetActor(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationVerified, stored.Status)
}
