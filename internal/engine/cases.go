package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/ledger"
	"caseline/internal/repo"
)

// FileCaseOptions are parameters for filing a case.
type FileCaseOptions struct {
	ActorID      string
	Category     string
	IncidentAt   time.Time
	Location     string
	Description  string
	EvidenceRefs []string
}

// FileCase stores a new pending case under the next number for the current
// year, then records it on the ledger best effort.
func (e Engine) FileCase(ctx context.Context, opts FileCaseOptions) (domain.Case, Confirmation, error) {
	const op = "engine.Case.File"
	submitter, err := e.actingActor(ctx, opts.ActorID, auth.PermCaseFile)
	if err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	now := e.now().UTC()
	category := strings.TrimSpace(opts.Category)
	location := strings.TrimSpace(opts.Location)
	description := strings.TrimSpace(opts.Description)
	switch {
	case category == "":
		return domain.Case{}, Confirmation{}, invalid("category", "is required")
	case !e.Config.AllowsCategory(category):
		return domain.Case{}, Confirmation{}, invalid("category", fmt.Sprintf("unknown category %q", category))
	case opts.IncidentAt.IsZero():
		return domain.Case{}, Confirmation{}, invalid("incident_at", "is required")
	case opts.IncidentAt.After(now):
		return domain.Case{}, Confirmation{}, invalid("incident_at", "must not be in the future")
	case location == "":
		return domain.Case{}, Confirmation{}, invalid("location", "is required")
	case description == "":
		return domain.Case{}, Confirmation{}, invalid("description", "is required")
	}
	evidence := make([]string, 0, len(opts.EvidenceRefs))
	for _, ref := range opts.EvidenceRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return domain.Case{}, Confirmation{}, invalid("evidence_refs", "must not contain empty identifiers")
		}
		evidence = append(evidence, ref)
	}

	seq, err := e.Store.NextCaseSequence(ctx, now.Year())
	if err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	stamp := now.Format(time.RFC3339)
	c := domain.Case{
		ID:           uuid.NewString(),
		Number:       caseNumber(now.Year(), seq),
		SubmitterID:  submitter.ID,
		Category:     category,
		IncidentAt:   opts.IncidentAt.UTC().Format(time.RFC3339),
		Location:     location,
		Description:  description,
		EvidenceRefs: evidence,
		Status:       domain.CasePending,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
		Version:      1,
	}
	if err := e.Store.InsertCase(ctx, c); err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	e.emit(ctx, events.CaseFiled, "case", c.ID, submitter.ID, events.EventPayload{"number": c.Number, "category": c.Category})

	contact := submitter.Phone
	if contact == "" {
		contact = submitter.Email
	}
	conf := e.bestEffort(ctx, op, ledger.FileCase(ledger.FileCaseArgs{
		Number:           c.Number,
		SubmitterName:    submitter.Name,
		SubmitterContact: contact,
		Category:         c.Category,
		IncidentAt:       opts.IncidentAt,
		Location:         c.Location,
		Description:      c.Description,
		Evidence:         c.EvidenceRefs,
	}))
	if conf.State == Confirmed {
		if updated, err := e.annotateTx(ctx, c.ID, conf.TxID); err != nil {
			e.log(op).WithField("case_id", c.ID).WithField("tx_id", conf.TxID).WithError(err).Warn("tx id not recorded")
		} else {
			c = updated
		}
	}
	e.log(op).WithField("case_id", c.ID).WithField("number", c.Number).Info("case filed")
	return c, conf, nil
}

func caseNumber(year int, seq int64) string {
	return fmt.Sprintf("%d%06d", year, seq)
}

func (e Engine) annotateTx(ctx context.Context, caseID, txID string) (domain.Case, error) {
	wctx := context.WithoutCancel(ctx)
	var out domain.Case
	err := retryOnConflict(func() error {
		cur, err := e.Store.GetCase(wctx, caseID)
		if err != nil {
			return err
		}
		cur.TxID = &txID
		out, err = e.Store.UpdateCase(wctx, cur, cur.Version)
		return err
	})
	return out, err
}

// GetCase returns a case with its submitter, caseworker and history. A case
// whose submitter no longer resolves is reported as not found.
func (e Engine) GetCase(ctx context.Context, id string) (domain.CaseDetails, bool, error) {
	c, err := e.Store.GetCase(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.CaseDetails{}, false, nil
	}
	if err != nil {
		return domain.CaseDetails{}, false, err
	}
	return e.caseDetails(ctx, c)
}

func (e Engine) caseDetails(ctx context.Context, c domain.Case) (domain.CaseDetails, bool, error) {
	submitter, err := e.Store.GetActor(ctx, c.SubmitterID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.CaseDetails{}, false, nil
	}
	if err != nil {
		return domain.CaseDetails{}, false, err
	}
	d := domain.CaseDetails{Case: c, Submitter: submitter}
	if c.AssignedCaseworkerID != nil {
		cw, err := e.caseworkerDetails(ctx, *c.AssignedCaseworkerID)
		switch {
		case err == nil:
			d.Caseworker = &cw
		case !errors.Is(err, repo.ErrNotFound):
			return domain.CaseDetails{}, false, err
		}
	}
	d.Updates, err = e.Store.ListCaseUpdates(ctx, c.ID)
	if err != nil {
		return domain.CaseDetails{}, false, err
	}
	return d, true, nil
}

// ListCases returns matching cases newest first. Cases whose submitter does
// not resolve are omitted.
func (e Engine) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.CaseDetails, error) {
	cases, err := e.Store.ListCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CaseDetails, 0, len(cases))
	for _, c := range cases {
		d, ok, err := e.caseDetails(ctx, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Case list scopes.
const (
	ScopeAll       = "all"
	ScopeSubmitted = "submitted"
	ScopeAssigned  = "assigned"
)

// CaseScope maps a list scope to a store filter for the acting actor. An
// empty scope defaults to all for admins, assigned for caseworkers and
// submitted for everyone else.
func (e Engine) CaseScope(ctx context.Context, actingID, scope string) (repo.CaseFilter, error) {
	acting, err := e.actingActor(ctx, actingID, "")
	if err != nil {
		return repo.CaseFilter{}, err
	}
	if scope == "" {
		switch acting.Role {
		case domain.RoleAdmin:
			scope = ScopeAll
		case domain.RoleCaseworker:
			scope = ScopeAssigned
		default:
			scope = ScopeSubmitted
		}
	}
	switch scope {
	case ScopeAll:
		if err := auth.Require(acting, auth.PermCaseReadAll); err != nil {
			return repo.CaseFilter{}, err
		}
		return repo.CaseFilter{}, nil
	case ScopeSubmitted:
		return repo.CaseFilter{SubmitterID: acting.ID}, nil
	case ScopeAssigned:
		cw, err := e.Store.GetCaseworkerByActor(ctx, acting.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return repo.CaseFilter{}, auth.ForbiddenError{Permission: auth.PermCaseStatus}
		}
		if err != nil {
			return repo.CaseFilter{}, err
		}
		return repo.CaseFilter{CaseworkerID: cw.ID}, nil
	}
	return repo.CaseFilter{}, invalid("scope", "must be all, submitted or assigned")
}

// ListCaseUpdates returns the audit trail of a case, newest first.
func (e Engine) ListCaseUpdates(ctx context.Context, caseID string) ([]domain.CaseUpdate, error) {
	if _, err := e.Store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return e.Store.ListCaseUpdates(ctx, caseID)
}

// AssignCaseworker attaches a caseworker to an open case. The ledger call
// comes first; a pending case moves to in_progress once it is confirmed.
func (e Engine) AssignCaseworker(ctx context.Context, actingID, caseID, caseworkerID string) (domain.Case, Confirmation, error) {
	const op = "engine.Case.Assign"
	if _, err := e.actingActor(ctx, actingID, auth.PermCaseAssign); err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	cw, err := e.Store.GetCaseworker(ctx, caseworkerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Case{}, Confirmation{}, fmt.Errorf("caseworker %s: %w", caseworkerID, err)
		}
		return domain.Case{}, Confirmation{}, err
	}
	cwActor, err := e.Store.GetActor(ctx, cw.ActorID)
	if err != nil {
		return domain.Case{}, Confirmation{}, err
	}
	if c.Status.Terminal() {
		return domain.Case{}, Confirmation{}, fmt.Errorf("%w: case %s is %s", ErrInvalidTransition, c.Number, c.Status)
	}
	if deref(c.AssignedCaseworkerID) == cw.ID {
		return c, skipped(), nil
	}

	conf, err := e.chainFirst(ctx, op, ledger.AssignCaseworker(c.Number, cwActor.Wallet))
	if err != nil {
		return domain.Case{}, Confirmation{}, err
	}

	wctx := context.WithoutCancel(ctx)
	var (
		updated  domain.Case
		previous domain.CaseStatus
	)
	err = retryOnConflict(func() error {
		cur, err := e.Store.GetCase(wctx, caseID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: case %s became %s during assignment", ErrInvalidTransition, cur.Number, cur.Status)
		}
		previous = cur.Status
		cur.AssignedCaseworkerID = &cw.ID
		if conf.TxID != "" {
			cur.TxID = &conf.TxID
		}
		if cur.Status == domain.CasePending {
			cur.Status = domain.CaseInProgress
		}
		cur.UpdatedAt = e.stamp()
		updated, err = e.Store.UpdateCase(wctx, cur, cur.Version)
		return err
	})
	if err != nil {
		e.log(op).WithField("case_id", caseID).WithField("tx_id", conf.TxID).WithError(err).Error("ledger assigned but store write failed")
		return domain.Case{}, Confirmation{}, err
	}
	if previous != updated.Status {
		if _, err := e.Store.AppendCaseUpdate(wctx, domain.CaseUpdate{
			ID:             uuid.NewString(),
			CaseID:         updated.ID,
			CaseVersion:    updated.Version,
			ActorID:        actingID,
			PreviousStatus: previous,
			NewStatus:      updated.Status,
			Comment:        optionalString("assigned to " + cw.Badge),
			TxID:           optionalString(conf.TxID),
			CreatedAt:      updated.UpdatedAt,
		}); err != nil {
			return domain.Case{}, Confirmation{}, err
		}
	}
	e.emit(ctx, events.CaseAssigned, "case", updated.ID, actingID, events.EventPayload{"caseworker_id": cw.ID, "status": updated.Status})
	e.log(op).WithField("case_id", updated.ID).WithField("caseworker_id", cw.ID).Info("caseworker assigned")
	return updated, conf, nil
}

// StatusOptions are parameters for a status update.
type StatusOptions struct {
	ActorID string
	CaseID  string
	Status  domain.CaseStatus
	Comment string
}

// UpdateStatus moves a case along its lifecycle and appends the audit entry.
// Only admins and the assigned caseworker may do so. The ledger is informed
// after the store write; its transaction id, when confirmed, lands on the
// audit entry.
func (e Engine) UpdateStatus(ctx context.Context, opts StatusOptions) (domain.Case, domain.CaseUpdate, Confirmation, error) {
	const op = "engine.Case.UpdateStatus"
	if !opts.Status.Valid() {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, invalid("status", fmt.Sprintf("unknown status %q", opts.Status))
	}
	acting, err := e.actingActor(ctx, opts.ActorID, auth.PermCaseStatus)
	if err != nil {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}
	c, err := e.Store.GetCase(ctx, opts.CaseID)
	if err != nil {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}
	if err := e.ensureAssigned(ctx, acting, c, auth.PermCaseStatus); err != nil {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}
	if err := ensureCaseTransition(c.Status, opts.Status); err != nil {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}

	comment := strings.TrimSpace(opts.Comment)
	previous := c.Status
	c.Status = opts.Status
	c.UpdatedAt = e.stamp()
	if opts.Status == domain.CaseClosed {
		at := c.UpdatedAt
		c.ClosedAt = &at
		c.ClosingComments = optionalString(comment)
	}
	updated, err := e.Store.UpdateCase(ctx, c, c.Version)
	if err != nil {
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}

	conf := e.bestEffort(ctx, op, ledger.UpdateCaseStatus(updated.Number, string(updated.Status), comment))
	upd, err := e.Store.AppendCaseUpdate(context.WithoutCancel(ctx), domain.CaseUpdate{
		ID:             uuid.NewString(),
		CaseID:         updated.ID,
		CaseVersion:    updated.Version,
		ActorID:        acting.ID,
		PreviousStatus: previous,
		NewStatus:      updated.Status,
		Comment:        optionalString(comment),
		TxID:           optionalString(conf.TxID),
		CreatedAt:      updated.UpdatedAt,
	})
	if err != nil {
		e.log(op).WithField("case_id", updated.ID).WithError(err).Error("status written but audit entry failed")
		return domain.Case{}, domain.CaseUpdate{}, Confirmation{}, err
	}
	if conf.State == Confirmed {
		if annotated, err := e.annotateTx(ctx, updated.ID, conf.TxID); err == nil {
			updated = annotated
		}
	}
	e.emit(ctx, events.CaseStatusChanged, "case", updated.ID, acting.ID, events.EventPayload{"from": previous, "to": updated.Status})
	e.log(op).WithFields(logrus.Fields{"case_id": updated.ID, "from": previous, "to": updated.Status}).Info("case status updated")
	return updated, upd, conf, nil
}

// ensureAssigned lets admins through and restricts caseworkers to the cases
// assigned to them.
func (e Engine) ensureAssigned(ctx context.Context, acting domain.Actor, c domain.Case, perm string) error {
	if acting.Role == domain.RoleAdmin {
		return nil
	}
	if acting.Role != domain.RoleCaseworker || c.AssignedCaseworkerID == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	cw, err := e.Store.GetCaseworkerByActor(ctx, acting.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.ForbiddenError{Permission: perm}
	}
	if err != nil {
		return err
	}
	if cw.ID != *c.AssignedCaseworkerID {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

var caseTransitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CasePending:    {domain.CasePending, domain.CaseInProgress, domain.CaseRejected},
	domain.CaseInProgress: {domain.CaseInProgress, domain.CaseClosed, domain.CaseRejected},
}

// ensureCaseTransition rejects moves out of terminal statuses and skips.
// Re-asserting a non-terminal status is allowed so comments can be added.
func ensureCaseTransition(from, to domain.CaseStatus) error {
	for _, allowed := range caseTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: case %s -> %s", ErrInvalidTransition, from, to)
}

// AttachEvidence adds a content reference to a case. The submitter, the
// assigned caseworker and admins may attach evidence.
func (e Engine) AttachEvidence(ctx context.Context, actingID, caseID, contentID, filename string) (domain.Case, error) {
	const op = "engine.Case.AttachEvidence"
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return domain.Case{}, invalid("content_id", "is required")
	}
	acting, err := e.actingActor(ctx, actingID, auth.PermCaseEvidence)
	if err != nil {
		return domain.Case{}, err
	}
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.SubmitterID != acting.ID {
		if err := e.ensureAssigned(ctx, acting, c, auth.PermCaseEvidence); err != nil {
			return domain.Case{}, err
		}
	}
	if c.Status.Terminal() {
		return domain.Case{}, fmt.Errorf("%w: case %s is %s", ErrInvalidTransition, c.Number, c.Status)
	}
	if _, err := e.Store.AddDocument(ctx, domain.Document{
		ID:        uuid.NewString(),
		OwnerKind: domain.OwnerCase,
		OwnerID:   c.ID,
		ContentID: contentID,
		Filename:  strings.TrimSpace(filename),
		AddedBy:   acting.ID,
		CreatedAt: e.stamp(),
	}); err != nil {
		return domain.Case{}, err
	}
	e.emit(ctx, events.DocumentAdded, "case", c.ID, acting.ID, events.EventPayload{"content_id": contentID})
	e.log(op).WithField("case_id", c.ID).Debug("evidence attached")
	return e.Store.GetCase(ctx, c.ID)
}

// ViewCase returns a case to an actor allowed to read it: admins, the
// submitter and the assigned caseworker.
func (e Engine) ViewCase(ctx context.Context, actingID, caseID string) (domain.CaseDetails, error) {
	acting, err := e.actingActor(ctx, actingID, "")
	if err != nil {
		return domain.CaseDetails{}, err
	}
	d, ok, err := e.GetCase(ctx, caseID)
	if err != nil {
		return domain.CaseDetails{}, err
	}
	if !ok {
		return domain.CaseDetails{}, fmt.Errorf("case %s: %w", caseID, repo.ErrNotFound)
	}
	if auth.ActorHasPermission(acting, auth.PermCaseReadAll) || d.Case.SubmitterID == acting.ID {
		return d, nil
	}
	if err := e.ensureAssigned(ctx, acting, d.Case, auth.PermCaseReadAll); err != nil {
		return domain.CaseDetails{}, err
	}
	return d, nil
}
