package repo

import (
	"context"
	"errors"

	"caseline/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("version conflict, please retry")
	ErrDuplicate = errors.New("duplicate")
)

// Store is the persistence capability set used by the engine. Each call is
// atomic on its own; there are no transactions across calls.
type Store interface {
	InsertActor(ctx context.Context, a domain.Actor) error
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	GetActorByWallet(ctx context.Context, wallet string) (domain.Actor, error)
	// UpdateActor writes a when the stored version equals expectedVersion and
	// returns the actor with its bumped version.
	UpdateActor(ctx context.Context, a domain.Actor, expectedVersion int64) (domain.Actor, error)
	ListActors(ctx context.Context, filter ActorFilter) ([]domain.Actor, error)

	InsertCaseworker(ctx context.Context, cw domain.Caseworker) error
	GetCaseworker(ctx context.Context, id string) (domain.Caseworker, error)
	GetCaseworkerByActor(ctx context.Context, actorID string) (domain.Caseworker, error)
	GetCaseworkerByBadge(ctx context.Context, badge string) (domain.Caseworker, error)
	ListCaseworkers(ctx context.Context) ([]domain.Caseworker, error)

	// NextCaseSequence atomically increments and returns the sequence for year.
	NextCaseSequence(ctx context.Context, year int) (int64, error)
	InsertCase(ctx context.Context, c domain.Case) error
	GetCase(ctx context.Context, id string) (domain.Case, error)
	GetCaseByNumber(ctx context.Context, number string) (domain.Case, error)
	UpdateCase(ctx context.Context, c domain.Case, expectedVersion int64) (domain.Case, error)
	// ListCases returns cases newest first.
	ListCases(ctx context.Context, filter CaseFilter) ([]domain.Case, error)

	AppendCaseUpdate(ctx context.Context, u domain.CaseUpdate) (domain.CaseUpdate, error)
	// ListCaseUpdates returns the case history newest first, ordered by the
	// case version each entry describes.
	ListCaseUpdates(ctx context.Context, caseID string) ([]domain.CaseUpdate, error)

	AddDocument(ctx context.Context, d domain.Document) (domain.Document, error)
	ListDocuments(ctx context.Context, ownerKind, ownerID string) ([]domain.Document, error)

	AppendEvent(ctx context.Context, evt domain.Event) (domain.Event, error)
	EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type ActorFilter struct {
	Status domain.VerificationStatus
	Role   domain.Role
}

func (f ActorFilter) Match(a domain.Actor) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	return true
}

type CaseFilter struct {
	SubmitterID  string
	CaseworkerID string
	Status       domain.CaseStatus
}

func (f CaseFilter) Match(c domain.Case) bool {
	if f.SubmitterID != "" && c.SubmitterID != f.SubmitterID {
		return false
	}
	if f.CaseworkerID != "" && (c.AssignedCaseworkerID == nil || *c.AssignedCaseworkerID != f.CaseworkerID) {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}
