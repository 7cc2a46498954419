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

// RegisterOptions are parameters for registering a wallet.
type RegisterOptions struct {
	Wallet       string
	Name         string
	Email        string
	Phone        string
	DocumentRefs []string
}

// RegisterActor records a new pending actor. The ledger registration is
// attempted after the store write and does not roll it back.
func (e Engine) RegisterActor(ctx context.Context, opts RegisterOptions) (domain.Actor, Confirmation, error) {
	const op = "engine.Actor.Register"
	a, err := e.newActor(ctx, opts)
	if err != nil {
		return domain.Actor{}, Confirmation{}, err
	}
	e.emit(ctx, events.ActorRegistered, "actor", a.ID, a.ID, events.EventPayload{"wallet": a.Wallet, "documents": len(a.DocumentRefs)})
	conf := e.bestEffort(ctx, op, ledger.RegisterActor(a.Wallet, a.DocumentRefs))
	e.log(op).WithField("actor_id", a.ID).Info("actor registered")
	return a, conf, nil
}

func (e Engine) newActor(ctx context.Context, opts RegisterOptions) (domain.Actor, error) {
	wallet, ok := domain.NormalizeWallet(opts.Wallet)
	if !ok {
		return domain.Actor{}, invalid("wallet", "must be a hex wallet address")
	}
	refs := make([]string, 0, len(opts.DocumentRefs))
	for _, ref := range opts.DocumentRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return domain.Actor{}, invalid("document_refs", "must not contain empty identifiers")
		}
		refs = append(refs, ref)
	}
	if _, err := e.Store.GetActorByWallet(ctx, wallet); err == nil {
		return domain.Actor{}, ErrDuplicateActor
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:           uuid.NewString(),
		Wallet:       wallet,
		Name:         strings.TrimSpace(opts.Name),
		Email:        strings.TrimSpace(opts.Email),
		Phone:        strings.TrimSpace(opts.Phone),
		Role:         domain.RoleNone,
		Status:       domain.VerificationPending,
		DocumentRefs: refs,
		CreatedAt:    e.stamp(),
		Version:      1,
	}
	if err := e.Store.InsertActor(ctx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Actor{}, ErrDuplicateActor
		}
		return domain.Actor{}, err
	}
	return a, nil
}

// ResolveActor looks an actor up by wallet. A missing actor is reported with
// found=false, not an error.
func (e Engine) ResolveActor(ctx context.Context, wallet string) (domain.ActorWithProfile, bool, error) {
	norm, ok := domain.NormalizeWallet(wallet)
	if !ok {
		return domain.ActorWithProfile{}, false, invalid("wallet", "must be a hex wallet address")
	}
	a, err := e.Store.GetActorByWallet(ctx, norm)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActorWithProfile{}, false, nil
	}
	if err != nil {
		return domain.ActorWithProfile{}, false, err
	}
	res, err := e.withProfile(ctx, a)
	return res, err == nil, err
}

// GetActor returns an actor with its caseworker profile.
func (e Engine) GetActor(ctx context.Context, id string) (domain.ActorWithProfile, error) {
	a, err := e.Store.GetActor(ctx, id)
	if err != nil {
		return domain.ActorWithProfile{}, err
	}
	return e.withProfile(ctx, a)
}

func (e Engine) withProfile(ctx context.Context, a domain.Actor) (domain.ActorWithProfile, error) {
	res := domain.ActorWithProfile{Actor: a}
	cw, err := e.Store.GetCaseworkerByActor(ctx, a.ID)
	if err == nil {
		res.Caseworker = &cw
	} else if !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}
	return res, nil
}

// ListPending returns actors awaiting verification.
func (e Engine) ListPending(ctx context.Context) ([]domain.Actor, error) {
	return e.Store.ListActors(ctx, repo.ActorFilter{Status: domain.VerificationPending})
}

// SetVerification moves a pending actor to verified or rejected.
//
// Approval is written to the ledger first and persisted only once confirmed.
// Rejection never touches the ledger. Repeating the current decision is a
// no-op; reversing it is an invalid transition.
func (e Engine) SetVerification(ctx context.Context, actingID, actorID string, status domain.VerificationStatus) (domain.Actor, Confirmation, error) {
	const op = "engine.Actor.SetVerification"
	var perm string
	switch status {
	case domain.VerificationVerified:
		perm = auth.PermActorVerify
	case domain.VerificationRejected:
		perm = auth.PermActorReject
	default:
		return domain.Actor{}, Confirmation{}, invalid("status", "must be verified or rejected")
	}
	if _, err := e.actingActor(ctx, actingID, perm); err != nil {
		return domain.Actor{}, Confirmation{}, err
	}
	target, err := e.Store.GetActor(ctx, actorID)
	if err != nil {
		return domain.Actor{}, Confirmation{}, err
	}
	if err := ensureVerificationTransition(target.Status, status); err != nil {
		return domain.Actor{}, Confirmation{}, err
	}
	if target.Status == status {
		return target, skipped(), nil
	}

	if status == domain.VerificationRejected {
		target.Status = domain.VerificationRejected
		updated, err := e.Store.UpdateActor(ctx, target, target.Version)
		if err != nil {
			return domain.Actor{}, Confirmation{}, err
		}
		e.emit(ctx, events.ActorRejected, "actor", updated.ID, actingID, nil)
		e.log(op).WithField("actor_id", updated.ID).Info("actor rejected")
		return updated, skipped(), nil
	}

	// Concurrent approvals of one actor queue here; the re-read below turns
	// the later ones into no-ops instead of second ledger transactions.
	if e.verifying != nil {
		unlock, err := e.verifying.lock(ctx, actorID)
		if err != nil {
			return domain.Actor{}, Confirmation{}, ledger.Classify(err)
		}
		defer unlock()
		if target, err = e.Store.GetActor(ctx, actorID); err != nil {
			return domain.Actor{}, Confirmation{}, err
		}
		if target.Status == domain.VerificationVerified {
			return target, skipped(), nil
		}
		if err := ensureVerificationTransition(target.Status, status); err != nil {
			return domain.Actor{}, Confirmation{}, err
		}
	}

	conf, err := e.chainFirst(ctx, op, ledger.VerifyActor(target.Wallet))
	if err != nil {
		return domain.Actor{}, Confirmation{}, err
	}
	// The ledger has recorded the approval; the store write must land even if
	// the caller goes away.
	wctx := context.WithoutCancel(ctx)
	var updated domain.Actor
	err = retryOnConflict(func() error {
		cur, err := e.Store.GetActor(wctx, actorID)
		if err != nil {
			return err
		}
		if cur.Status == domain.VerificationVerified {
			updated = cur
			return nil
		}
		if cur.Status != domain.VerificationPending {
			return fmt.Errorf("%w: actor %s became %s during verification", ErrInvalidTransition, cur.ID, cur.Status)
		}
		role, err := e.verifiedRole(wctx, cur.ID)
		if err != nil {
			return err
		}
		at := e.stamp()
		cur.Status = domain.VerificationVerified
		cur.Role = role
		cur.VerifiedAt = &at
		cur.VerifiedBy = optionalString(actingID)
		updated, err = e.Store.UpdateActor(wctx, cur, cur.Version)
		return err
	})
	if err != nil {
		e.log(op).WithField("actor_id", actorID).WithField("tx_id", conf.TxID).WithError(err).Error("ledger verified but store write failed")
		return domain.Actor{}, Confirmation{}, err
	}
	e.emit(ctx, events.ActorVerified, "actor", updated.ID, actingID, events.EventPayload{"role": updated.Role, "tx_id": conf.TxID})
	e.log(op).WithField("actor_id", updated.ID).WithField("role", updated.Role).Info("actor verified")
	return updated, conf, nil
}

func (e Engine) verifiedRole(ctx context.Context, actorID string) (domain.Role, error) {
	_, err := e.Store.GetCaseworkerByActor(ctx, actorID)
	if err == nil {
		return domain.RoleCaseworker, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.RoleSubmitter, nil
	}
	return "", err
}

func ensureVerificationTransition(from, to domain.VerificationStatus) error {
	if from == to && from != domain.VerificationPending {
		return nil
	}
	if from == domain.VerificationPending && (to == domain.VerificationVerified || to == domain.VerificationRejected) {
		return nil
	}
	return fmt.Errorf("%w: verification %s -> %s", ErrInvalidTransition, from, to)
}

// AddActorDocument attaches a content reference to an actor. Actors may add
// their own documents; admins may add to anyone.
func (e Engine) AddActorDocument(ctx context.Context, actingID, actorID, contentID, filename string) (domain.Actor, error) {
	const op = "engine.Actor.AddDocument"
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return domain.Actor{}, invalid("content_id", "is required")
	}
	acting, err := e.actingActor(ctx, actingID, "")
	if err != nil {
		return domain.Actor{}, err
	}
	if acting.ID != actorID {
		if err := auth.Require(acting, auth.PermActorDocuments); err != nil {
			return domain.Actor{}, err
		}
	}
	if _, err := e.Store.GetActor(ctx, actorID); err != nil {
		return domain.Actor{}, err
	}
	doc, err := e.Store.AddDocument(ctx, domain.Document{
		ID:        uuid.NewString(),
		OwnerKind: domain.OwnerActor,
		OwnerID:   actorID,
		ContentID: contentID,
		Filename:  strings.TrimSpace(filename),
		AddedBy:   actingID,
		CreatedAt: e.stamp(),
	})
	if err != nil {
		return domain.Actor{}, err
	}
	e.emit(ctx, events.DocumentAdded, "actor", actorID, actingID, events.EventPayload{"content_id": doc.ContentID})
	e.log(op).WithField("actor_id", actorID).Debug("document added")
	return e.Store.GetActor(ctx, actorID)
}
