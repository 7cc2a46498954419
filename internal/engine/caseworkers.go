package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/ledger"
	"caseline/internal/repo"
)

// CaseworkerOptions are parameters for creating a caseworker profile. The
// target is either an existing actor (ActorID) or a wallet, which is
// registered on the fly when unknown.
type CaseworkerOptions struct {
	ActingID   string
	ActorID    string
	Wallet     string
	Name       string
	Phone      string
	Badge      string
	Department string
}

// CreateCaseworker grants the caseworker role on the ledger, then records the
// profile and marks the actor verified.
func (e Engine) CreateCaseworker(ctx context.Context, opts CaseworkerOptions) (domain.CaseworkerDetails, Confirmation, error) {
	const op = "engine.Caseworker.Create"
	if _, err := e.actingActor(ctx, opts.ActingID, auth.PermCaseworkerCreate); err != nil {
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}
	name := strings.TrimSpace(opts.Name)
	badge := strings.TrimSpace(opts.Badge)
	dept := strings.TrimSpace(opts.Department)
	switch {
	case name == "":
		return domain.CaseworkerDetails{}, Confirmation{}, invalid("name", "is required")
	case badge == "":
		return domain.CaseworkerDetails{}, Confirmation{}, invalid("badge", "is required")
	case dept == "":
		return domain.CaseworkerDetails{}, Confirmation{}, invalid("department", "is required")
	case opts.ActorID == "" && opts.Wallet == "":
		return domain.CaseworkerDetails{}, Confirmation{}, invalid("actor_id", "actor_id or wallet is required")
	}
	if _, err := e.Store.GetCaseworkerByBadge(ctx, badge); err == nil {
		return domain.CaseworkerDetails{}, Confirmation{}, ErrDuplicateBadge
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}

	target, unsaved, err := e.caseworkerTarget(ctx, opts)
	if err != nil {
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}
	switch {
	case target.Role == domain.RoleAdmin:
		return domain.CaseworkerDetails{}, Confirmation{}, invalid("actor_id", "admins cannot hold a caseworker profile")
	case target.Status == domain.VerificationRejected:
		return domain.CaseworkerDetails{}, Confirmation{}, fmt.Errorf("%w: actor %s was rejected", ErrInvalidTransition, target.ID)
	}
	if !unsaved {
		if _, err := e.Store.GetCaseworkerByActor(ctx, target.ID); err == nil {
			return domain.CaseworkerDetails{}, Confirmation{}, ErrDuplicateCaseworker
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.CaseworkerDetails{}, Confirmation{}, err
		}
	}

	conf, err := e.chainFirst(ctx, op, ledger.AddCaseworker(target.Wallet))
	if err != nil {
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}

	wctx := context.WithoutCancel(ctx)
	if unsaved {
		if err := e.Store.InsertActor(wctx, target); err != nil {
			e.log(op).WithField("wallet", target.Wallet).WithField("tx_id", conf.TxID).WithError(err).Error("ledger granted caseworker but actor write failed")
			if errors.Is(err, repo.ErrDuplicate) {
				return domain.CaseworkerDetails{}, Confirmation{}, ErrDuplicateActor
			}
			return domain.CaseworkerDetails{}, Confirmation{}, err
		}
	}
	cw := domain.Caseworker{
		ID:         uuid.NewString(),
		ActorID:    target.ID,
		Name:       name,
		Phone:      strings.TrimSpace(opts.Phone),
		Badge:      badge,
		Department: dept,
		CreatedAt:  e.stamp(),
	}
	if err := e.Store.InsertCaseworker(wctx, cw); err != nil {
		entry := e.log(op).WithField("actor_id", target.ID).WithField("tx_id", conf.TxID)
		if errors.Is(err, repo.ErrDuplicate) {
			entry.Warn("caseworker granted on ledger but profile already exists")
			if _, berr := e.Store.GetCaseworkerByBadge(wctx, badge); berr == nil {
				return domain.CaseworkerDetails{}, Confirmation{}, ErrDuplicateBadge
			}
			return domain.CaseworkerDetails{}, Confirmation{}, ErrDuplicateCaseworker
		}
		entry.WithError(err).Error("ledger granted caseworker but store write failed")
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}

	var actor domain.Actor
	err = retryOnConflict(func() error {
		cur, err := e.Store.GetActor(wctx, target.ID)
		if err != nil {
			return err
		}
		if cur.Status == domain.VerificationVerified && cur.Role == domain.RoleCaseworker {
			actor = cur
			return nil
		}
		if cur.Status != domain.VerificationVerified {
			at := e.stamp()
			cur.VerifiedAt = &at
			cur.VerifiedBy = optionalString(opts.ActingID)
		}
		cur.Status = domain.VerificationVerified
		cur.Role = domain.RoleCaseworker
		actor, err = e.Store.UpdateActor(wctx, cur, cur.Version)
		return err
	})
	if err != nil {
		e.log(op).WithField("actor_id", target.ID).WithError(err).Error("caseworker profile written but actor promotion failed")
		return domain.CaseworkerDetails{}, Confirmation{}, err
	}
	e.emit(ctx, events.CaseworkerCreated, "caseworker", cw.ID, opts.ActingID, events.EventPayload{"actor_id": actor.ID, "badge": cw.Badge})
	e.log(op).WithField("caseworker_id", cw.ID).WithField("badge", cw.Badge).Info("caseworker created")
	return domain.CaseworkerDetails{Caseworker: cw, Actor: actor}, conf, nil
}

// caseworkerTarget resolves the actor to promote. An unknown wallet yields an
// unsaved actor; it is only persisted once the ledger has confirmed.
func (e Engine) caseworkerTarget(ctx context.Context, opts CaseworkerOptions) (domain.Actor, bool, error) {
	if opts.ActorID != "" {
		a, err := e.Store.GetActor(ctx, opts.ActorID)
		return a, false, err
	}
	wallet, ok := domain.NormalizeWallet(opts.Wallet)
	if !ok {
		return domain.Actor{}, false, invalid("wallet", "must be a hex wallet address")
	}
	a, err := e.Store.GetActorByWallet(ctx, wallet)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, false, err
	}
	return domain.Actor{
		ID:           uuid.NewString(),
		Wallet:       wallet,
		Name:         strings.TrimSpace(opts.Name),
		Phone:        strings.TrimSpace(opts.Phone),
		Role:         domain.RoleNone,
		Status:       domain.VerificationPending,
		DocumentRefs: []string{},
		CreatedAt:    e.stamp(),
		Version:      1,
	}, true, nil
}

// ListCaseworkers returns every profile with case counts derived from the
// current case set.
func (e Engine) ListCaseworkers(ctx context.Context) ([]domain.CaseworkerDetails, error) {
	profiles, err := e.Store.ListCaseworkers(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := e.Store.ListCases(ctx, repo.CaseFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CaseworkerDetails, 0, len(profiles))
	for _, cw := range profiles {
		a, err := e.Store.GetActor(ctx, cw.ActorID)
		if err != nil {
			return nil, fmt.Errorf("caseworker %s: %w", cw.ID, err)
		}
		out = append(out, withCounts(cw, a, cases))
	}
	return out, nil
}

func (e Engine) caseworkerDetails(ctx context.Context, id string) (domain.CaseworkerDetails, error) {
	cw, err := e.Store.GetCaseworker(ctx, id)
	if err != nil {
		return domain.CaseworkerDetails{}, err
	}
	a, err := e.Store.GetActor(ctx, cw.ActorID)
	if err != nil {
		return domain.CaseworkerDetails{}, err
	}
	cases, err := e.Store.ListCases(ctx, repo.CaseFilter{CaseworkerID: cw.ID})
	if err != nil {
		return domain.CaseworkerDetails{}, err
	}
	return withCounts(cw, a, cases), nil
}

func withCounts(cw domain.Caseworker, a domain.Actor, cases []domain.Case) domain.CaseworkerDetails {
	d := domain.CaseworkerDetails{Caseworker: cw, Actor: a}
	for _, c := range cases {
		if c.AssignedCaseworkerID == nil || *c.AssignedCaseworkerID != cw.ID {
			continue
		}
		switch c.Status {
		case domain.CasePending, domain.CaseInProgress:
			d.ActiveCases++
		case domain.CaseClosed:
			d.ClosedCases++
		}
	}
	return d
}

// EnsureAdmin makes wallet a verified admin, registering it when unknown.
// Admin bootstrap is a local decision and is not written to the ledger.
func (e Engine) EnsureAdmin(ctx context.Context, wallet string) (domain.Actor, error) {
	const op = "engine.Admin.Ensure"
	norm, ok := domain.NormalizeWallet(wallet)
	if !ok {
		return domain.Actor{}, invalid("wallet", "must be a hex wallet address")
	}
	a, err := e.Store.GetActorByWallet(ctx, norm)
	if errors.Is(err, repo.ErrNotFound) {
		a, err = e.newActor(ctx, RegisterOptions{Wallet: norm, Name: "admin"})
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if a.Role == domain.RoleAdmin && a.Status == domain.VerificationVerified {
		return a, nil
	}
	if _, err := e.Store.GetCaseworkerByActor(ctx, a.ID); err == nil {
		return domain.Actor{}, fmt.Errorf("wallet %s already holds a caseworker profile", norm)
	}
	at := e.stamp()
	a.Role = domain.RoleAdmin
	a.Status = domain.VerificationVerified
	if a.VerifiedAt == nil {
		a.VerifiedAt = &at
	}
	updated, err := e.Store.UpdateActor(ctx, a, a.Version)
	if err != nil {
		return domain.Actor{}, err
	}
	e.log(op).WithField("actor_id", updated.ID).Info("admin ensured")
	return updated, nil
}
