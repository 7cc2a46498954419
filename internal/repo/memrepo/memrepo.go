// Package memrepo is an in-memory repo.Store for tests and throwaway runs.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

type Store struct {
	mu          sync.Mutex
	actors      map[string]domain.Actor
	wallets     map[string]string
	caseworkers map[string]domain.Caseworker
	sequences   map[int]int64
	cases       map[string]domain.Case
	numbers     map[string]string
	updates     map[string][]domain.CaseUpdate
	documents   []domain.Document
	events      []domain.Event
	updateSeq   int64
}

var _ repo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		actors:      make(map[string]domain.Actor),
		wallets:     make(map[string]string),
		caseworkers: make(map[string]domain.Caseworker),
		sequences:   make(map[int]int64),
		cases:       make(map[string]domain.Case),
		numbers:     make(map[string]string),
		updates:     make(map[string][]domain.CaseUpdate),
	}
}

func (s *Store) InsertActor(_ context.Context, a domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[a.ID]; ok {
		return fmt.Errorf("actor %s: %w", a.ID, repo.ErrDuplicate)
	}
	if _, ok := s.wallets[a.Wallet]; ok {
		return fmt.Errorf("actor wallet %s: %w", a.Wallet, repo.ErrDuplicate)
	}
	for i, ref := range a.DocumentRefs {
		s.documents = append(s.documents, domain.Document{
			ID:        fmt.Sprintf("%s-doc-%d", a.ID, i),
			OwnerKind: domain.OwnerActor,
			OwnerID:   a.ID,
			ContentID: ref,
			AddedBy:   a.ID,
			CreatedAt: a.CreatedAt,
		})
	}
	a.DocumentRefs = nil
	s.actors[a.ID] = a
	s.wallets[a.Wallet] = a.ID
	return nil
}

func (s *Store) GetActor(_ context.Context, id string) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return domain.Actor{}, repo.ErrNotFound
	}
	return s.actorView(a), nil
}

func (s *Store) GetActorByWallet(_ context.Context, wallet string) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.wallets[strings.ToLower(wallet)]
	if !ok {
		return domain.Actor{}, repo.ErrNotFound
	}
	return s.actorView(s.actors[id]), nil
}

func (s *Store) UpdateActor(_ context.Context, a domain.Actor, expectedVersion int64) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actors[a.ID]
	if !ok {
		return a, repo.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return a, repo.ErrConflict
	}
	cur.Name, cur.Email, cur.Phone = a.Name, a.Email, a.Phone
	cur.Role, cur.Status = a.Role, a.Status
	cur.VerifiedAt = cloneStr(a.VerifiedAt)
	cur.VerifiedBy = cloneStr(a.VerifiedBy)
	cur.Version++
	s.actors[a.ID] = cur
	return s.actorView(cur), nil
}

func (s *Store) ListActors(_ context.Context, filter repo.ActorFilter) ([]domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Actor
	for _, a := range s.actors {
		if filter.Match(a) {
			res = append(res, s.actorView(a))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt < res[j].CreatedAt
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (s *Store) actorView(a domain.Actor) domain.Actor {
	a.DocumentRefs = s.contentIDs(domain.OwnerActor, a.ID)
	a.VerifiedAt = cloneStr(a.VerifiedAt)
	a.VerifiedBy = cloneStr(a.VerifiedBy)
	return a
}

func (s *Store) InsertCaseworker(_ context.Context, cw domain.Caseworker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.caseworkers {
		if existing.ID == cw.ID || existing.Badge == cw.Badge || existing.ActorID == cw.ActorID {
			return fmt.Errorf("caseworker %s: %w", cw.Badge, repo.ErrDuplicate)
		}
	}
	s.caseworkers[cw.ID] = cw
	return nil
}

func (s *Store) GetCaseworker(_ context.Context, id string) (domain.Caseworker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cw, ok := s.caseworkers[id]
	if !ok {
		return domain.Caseworker{}, repo.ErrNotFound
	}
	return cw, nil
}

func (s *Store) GetCaseworkerByActor(_ context.Context, actorID string) (domain.Caseworker, error) {
	return s.findCaseworker(func(cw domain.Caseworker) bool { return cw.ActorID == actorID })
}

func (s *Store) GetCaseworkerByBadge(_ context.Context, badge string) (domain.Caseworker, error) {
	return s.findCaseworker(func(cw domain.Caseworker) bool { return cw.Badge == badge })
}

func (s *Store) findCaseworker(match func(domain.Caseworker) bool) (domain.Caseworker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cw := range s.caseworkers {
		if match(cw) {
			return cw, nil
		}
	}
	return domain.Caseworker{}, repo.ErrNotFound
}

func (s *Store) ListCaseworkers(_ context.Context) ([]domain.Caseworker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.Caseworker, 0, len(s.caseworkers))
	for _, cw := range s.caseworkers {
		res = append(res, cw)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt < res[j].CreatedAt
		}
		return res[i].Badge < res[j].Badge
	})
	return res, nil
}

func (s *Store) NextCaseSequence(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[year]++
	return s.sequences[year], nil
}

func (s *Store) InsertCase(_ context.Context, c domain.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s: %w", c.ID, repo.ErrDuplicate)
	}
	if _, ok := s.numbers[c.Number]; ok {
		return fmt.Errorf("case %s: %w", c.Number, repo.ErrDuplicate)
	}
	for i, ref := range c.EvidenceRefs {
		s.documents = append(s.documents, domain.Document{
			ID:        fmt.Sprintf("%s-ev-%d", c.ID, i),
			OwnerKind: domain.OwnerCase,
			OwnerID:   c.ID,
			ContentID: ref,
			AddedBy:   c.SubmitterID,
			CreatedAt: c.CreatedAt,
		})
	}
	c.EvidenceRefs = nil
	s.cases[c.ID] = cloneCase(c)
	s.numbers[c.Number] = c.ID
	return nil
}

func (s *Store) GetCase(_ context.Context, id string) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return domain.Case{}, repo.ErrNotFound
	}
	return s.caseView(c), nil
}

func (s *Store) GetCaseByNumber(_ context.Context, number string) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.numbers[number]
	if !ok {
		return domain.Case{}, repo.ErrNotFound
	}
	return s.caseView(s.cases[id]), nil
}

func (s *Store) UpdateCase(_ context.Context, c domain.Case, expectedVersion int64) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cases[c.ID]
	if !ok {
		return c, repo.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return c, repo.ErrConflict
	}
	cur.Status = c.Status
	cur.AssignedCaseworkerID = cloneStr(c.AssignedCaseworkerID)
	cur.TxID = cloneStr(c.TxID)
	cur.ClosingComments = cloneStr(c.ClosingComments)
	cur.UpdatedAt = c.UpdatedAt
	cur.ClosedAt = cloneStr(c.ClosedAt)
	cur.Version++
	s.cases[c.ID] = cur
	return s.caseView(cur), nil
}

func (s *Store) ListCases(_ context.Context, filter repo.CaseFilter) ([]domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Case
	for _, c := range s.cases {
		if filter.Match(c) {
			res = append(res, s.caseView(c))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt > res[j].CreatedAt
		}
		return res[i].Number > res[j].Number
	})
	return res, nil
}

func (s *Store) caseView(c domain.Case) domain.Case {
	c = cloneCase(c)
	c.EvidenceRefs = s.contentIDs(domain.OwnerCase, c.ID)
	return c
}

func (s *Store) AppendCaseUpdate(_ context.Context, u domain.CaseUpdate) (domain.CaseUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[u.CaseID]; !ok {
		return u, fmt.Errorf("append case update: case %s: %w", u.CaseID, repo.ErrNotFound)
	}
	s.updateSeq++
	u.Seq = s.updateSeq
	s.updates[u.CaseID] = append(s.updates[u.CaseID], u)
	return u, nil
}

func (s *Store) ListCaseUpdates(_ context.Context, caseID string) ([]domain.CaseUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.updates[caseID]
	res := make([]domain.CaseUpdate, 0, len(src))
	res = append(res, src...)
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CaseVersion != res[j].CaseVersion {
			return res[i].CaseVersion > res[j].CaseVersion
		}
		return res[i].Seq > res[j].Seq
	})
	return res, nil
}

func (s *Store) AddDocument(_ context.Context, d domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, d)
	return d, nil
}

func (s *Store) ListDocuments(_ context.Context, ownerKind, ownerID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Document
	for _, d := range s.documents {
		if d.OwnerKind == ownerKind && d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (s *Store) contentIDs(ownerKind, ownerID string) []string {
	refs := []string{}
	for _, d := range s.documents {
		if d.OwnerKind == ownerKind && d.OwnerID == ownerID {
			refs = append(refs, d.ContentID)
		}
	}
	return refs
}

func (s *Store) AppendEvent(_ context.Context, evt domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.ID = int64(len(s.events) + 1)
	s.events = append(s.events, evt)
	return evt, nil
}

func (s *Store) EventsAfter(_ context.Context, limit int, afterID int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Event
	for _, evt := range s.events {
		if evt.ID <= afterID {
			continue
		}
		res = append(res, evt)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *Store) LatestEventID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneCase(c domain.Case) domain.Case {
	c.AssignedCaseworkerID = cloneStr(c.AssignedCaseworkerID)
	c.TxID = cloneStr(c.TxID)
	c.ClosingComments = cloneStr(c.ClosingComments)
	c.ClosedAt = cloneStr(c.ClosedAt)
	return c
}
