// Package repotest holds the behaviour every repo.Store implementation must share.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

const ts = "2024-03-01T10:00:00Z"

func Run(t *testing.T, newStore func(t *testing.T) repo.Store) {
	t.Run("actors", func(t *testing.T) { testActors(t, newStore(t)) })
	t.Run("caseworkers", func(t *testing.T) { testCaseworkers(t, newStore(t)) })
	t.Run("cases", func(t *testing.T) { testCases(t, newStore(t)) })
	t.Run("sequence", func(t *testing.T) { testSequence(t, newStore(t)) })
	t.Run("updates", func(t *testing.T) { testUpdates(t, newStore(t)) })
	t.Run("updates by case version", func(t *testing.T) { testUpdatesOrderByCaseVersion(t, newStore(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
}

func actor(id, wallet string) domain.Actor {
	return domain.Actor{
		ID:           id,
		Wallet:       wallet,
		Name:         "Actor " + id,
		Role:         domain.RoleNone,
		Status:       domain.VerificationPending,
		DocumentRefs: []string{"bafy-" + id},
		CreatedAt:    ts,
		Version:      1,
	}
}

func testActors(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := actor("a1", "0x00000000000000000000000000000000000000a1")
	require.NoError(t, s.InsertActor(ctx, a))

	err := s.InsertActor(ctx, actor("a2", a.Wallet))
	require.ErrorIs(t, err, repo.ErrDuplicate)

	got, err := s.GetActorByWallet(ctx, "0x00000000000000000000000000000000000000A1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, []string{"bafy-a1"}, got.DocumentRefs)

	_, err = s.GetActor(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)

	got.Status = domain.VerificationVerified
	got.Role = domain.RoleSubmitter
	verifiedAt := ts
	got.VerifiedAt = &verifiedAt
	updated, err := s.UpdateActor(ctx, got, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, domain.RoleSubmitter, updated.Role)
	require.NotNil(t, updated.VerifiedAt)

	_, err = s.UpdateActor(ctx, got, 1)
	require.ErrorIs(t, err, repo.ErrConflict)

	_, err = s.UpdateActor(ctx, actor("nope", "0x00000000000000000000000000000000000000ff"), 1)
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, s.InsertActor(ctx, actor("a3", "0x00000000000000000000000000000000000000a3")))
	pending, err := s.ListActors(ctx, repo.ActorFilter{Status: domain.VerificationPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a3", pending[0].ID)

	_, err = s.AddDocument(ctx, domain.Document{ID: "d-extra", OwnerKind: domain.OwnerActor, OwnerID: "a3", ContentID: "bafy-extra", CreatedAt: ts})
	require.NoError(t, err)
	a3, err := s.GetActor(ctx, "a3")
	require.NoError(t, err)
	assert.Equal(t, []string{"bafy-a3", "bafy-extra"}, a3.DocumentRefs)
}

func testCaseworkers(t *testing.T, s repo.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertActor(ctx, actor("a1", "0x00000000000000000000000000000000000000a1")))
	require.NoError(t, s.InsertActor(ctx, actor("a2", "0x00000000000000000000000000000000000000a2")))
	cw := domain.Caseworker{ID: "cw1", ActorID: "a1", Name: "Officer One", Badge: "B-1", Department: "North", CreatedAt: ts}
	require.NoError(t, s.InsertCaseworker(ctx, cw))

	err := s.InsertCaseworker(ctx, domain.Caseworker{ID: "cw2", ActorID: "a2", Name: "Two", Badge: "B-1", Department: "North", CreatedAt: ts})
	require.ErrorIs(t, err, repo.ErrDuplicate)
	err = s.InsertCaseworker(ctx, domain.Caseworker{ID: "cw3", ActorID: "a1", Name: "Three", Badge: "B-3", Department: "North", CreatedAt: ts})
	require.ErrorIs(t, err, repo.ErrDuplicate)

	got, err := s.GetCaseworkerByActor(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, cw, got)
	got, err = s.GetCaseworkerByBadge(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, "cw1", got.ID)
	_, err = s.GetCaseworkerByActor(ctx, "a2")
	require.ErrorIs(t, err, repo.ErrNotFound)

	all, err := s.ListCaseworkers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func newCase(id, number, submitter, createdAt string) domain.Case {
	return domain.Case{
		ID:           id,
		Number:       number,
		SubmitterID:  submitter,
		Category:     "theft",
		IncidentAt:   ts,
		Location:     "Main St",
		Description:  "bike stolen",
		EvidenceRefs: []string{"bafy-" + id},
		Status:       domain.CasePending,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		Version:      1,
	}
}

func testCases(t *testing.T, s repo.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertActor(ctx, actor("a1", "0x00000000000000000000000000000000000000a1")))
	require.NoError(t, s.InsertActor(ctx, actor("a2", "0x00000000000000000000000000000000000000a2")))
	require.NoError(t, s.InsertCaseworker(ctx, domain.Caseworker{ID: "cw1", ActorID: "a2", Name: "Officer", Badge: "B-1", Department: "North", CreatedAt: ts}))

	require.NoError(t, s.InsertCase(ctx, newCase("c1", "2024000001", "a1", "2024-03-01T10:00:00Z")))
	require.NoError(t, s.InsertCase(ctx, newCase("c2", "2024000002", "a1", "2024-03-01T11:00:00Z")))
	require.ErrorIs(t, s.InsertCase(ctx, newCase("c3", "2024000002", "a1", ts)), repo.ErrDuplicate)

	c, err := s.GetCaseByNumber(ctx, "2024000001")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, []string{"bafy-c1"}, c.EvidenceRefs)
	assert.Nil(t, c.AssignedCaseworkerID)

	cwID := "cw1"
	c.AssignedCaseworkerID = &cwID
	c.Status = domain.CaseInProgress
	c.UpdatedAt = "2024-03-02T10:00:00Z"
	updated, err := s.UpdateCase(ctx, c, c.Version)
	require.NoError(t, err)
	assert.Equal(t, c.Version+1, updated.Version)
	assert.Equal(t, domain.CaseInProgress, updated.Status)

	_, err = s.UpdateCase(ctx, c, c.Version)
	require.ErrorIs(t, err, repo.ErrConflict)

	all, err := s.ListCases(ctx, repo.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c2", all[0].ID, "newest first")

	assigned, err := s.ListCases(ctx, repo.CaseFilter{CaseworkerID: "cw1"})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "c1", assigned[0].ID)

	mine, err := s.ListCases(ctx, repo.CaseFilter{SubmitterID: "a2"})
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func testSequence(t *testing.T, s repo.Store) {
	ctx := context.Background()
	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.NextCaseSequence(ctx, 2024)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
	other, err := s.NextCaseSequence(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func testUpdates(t *testing.T, s repo.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertActor(ctx, actor("a1", "0x00000000000000000000000000000000000000a1")))
	require.NoError(t, s.InsertCase(ctx, newCase("c1", "2024000001", "a1", ts)))
	for i, next := range []domain.CaseStatus{domain.CaseInProgress, domain.CaseClosed} {
		prev := domain.CasePending
		if i > 0 {
			prev = domain.CaseInProgress
		}
		u, err := s.AppendCaseUpdate(ctx, domain.CaseUpdate{
			ID:             fmt.Sprintf("u%d", i),
			CaseID:         "c1",
			ActorID:        "a1",
			PreviousStatus: prev,
			NewStatus:      next,
			CreatedAt:      ts,
		})
		require.NoError(t, err)
		assert.NotZero(t, u.Seq)
	}
	list, err := s.ListCaseUpdates(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.CaseClosed, list[0].NewStatus)
	assert.Greater(t, list[0].Seq, list[1].Seq)
}

func testUpdatesOrderByCaseVersion(t *testing.T, s repo.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertActor(ctx, actor("a1", "0x00000000000000000000000000000000000000a1")))
	require.NoError(t, s.InsertCase(ctx, newCase("c1", "2024000001", "a1", ts)))
	// The entry for version 3 is appended before the one for version 2.
	for _, u := range []domain.CaseUpdate{
		{ID: "late", CaseID: "c1", CaseVersion: 3, ActorID: "a1", PreviousStatus: domain.CaseInProgress, NewStatus: domain.CaseRejected, CreatedAt: ts},
		{ID: "early", CaseID: "c1", CaseVersion: 2, ActorID: "a1", PreviousStatus: domain.CasePending, NewStatus: domain.CaseInProgress, CreatedAt: ts},
	} {
		_, err := s.AppendCaseUpdate(ctx, u)
		require.NoError(t, err)
	}
	list, err := s.ListCaseUpdates(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "late", list[0].ID)
	assert.Equal(t, int64(3), list[0].CaseVersion)
	assert.Equal(t, domain.CaseRejected, list[0].NewStatus)
	assert.Equal(t, "early", list[1].ID)
}

func testEvents(t *testing.T, s repo.Store) {
	ctx := context.Background()
	latest, err := s.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)
	for i := 0; i < 3; i++ {
		_, err := s.AppendEvent(ctx, domain.Event{TS: ts, Type: "case.filed", EntityKind: "case", EntityID: fmt.Sprintf("c%d", i), ActorID: "a1", Payload: "{}"})
		require.NoError(t, err)
	}
	events, err := s.EventsAfter(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	rest, err := s.EventsAfter(ctx, 10, events[1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c2", rest[0].EntityID)
	latest, err = s.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, rest[0].ID, latest)
}
