package engine

import (
	"context"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

// Stats aggregates counts over the whole store. Counts are derived on each
// call, never cached.
func (e Engine) Stats(ctx context.Context, actingID string) (domain.Stats, error) {
	if _, err := e.actingActor(ctx, actingID, auth.PermStatsRead); err != nil {
		return domain.Stats{}, err
	}
	return e.stats(ctx)
}

func (e Engine) stats(ctx context.Context) (domain.Stats, error) {
	cases, err := e.Store.ListCases(ctx, repo.CaseFilter{})
	if err != nil {
		return domain.Stats{}, err
	}
	pending, err := e.Store.ListActors(ctx, repo.ActorFilter{Status: domain.VerificationPending})
	if err != nil {
		return domain.Stats{}, err
	}
	profiles, err := e.Store.ListCaseworkers(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	s := domain.Stats{
		TotalCases:           len(cases),
		PendingVerifications: len(pending),
		Caseworkers:          len(profiles),
		CasesByStatus:        make(map[domain.CaseStatus]int, len(domain.AllCaseStatuses)),
	}
	for _, st := range domain.AllCaseStatuses {
		s.CasesByStatus[st] = 0
	}
	for _, c := range cases {
		s.CasesByStatus[c.Status]++
	}
	s.ClosedCases = s.CasesByStatus[domain.CaseClosed]
	return s, nil
}
