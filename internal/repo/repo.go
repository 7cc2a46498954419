package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"caseline/internal/domain"
)

// Repo is the SQL Store. Queries are written with ? placeholders and
// rebound for the postgres dialect.
type Repo struct {
	DB      *sql.DB
	Dialect string
}

var _ Store = Repo{}

func New(db *sql.DB, dialect string) Repo {
	return Repo{DB: db, Dialect: dialect}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	if r.Dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const actorColumns = `id,wallet,name,email,phone,role,status,created_at,verified_at,verified_by,version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (domain.Actor, error) {
	var a domain.Actor
	var verifiedAt, verifiedBy sql.NullString
	err := row.Scan(&a.ID, &a.Wallet, &a.Name, &a.Email, &a.Phone, &a.Role, &a.Status, &a.CreatedAt, &verifiedAt, &verifiedBy, &a.Version)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.VerifiedAt = fromNull(verifiedAt)
	a.VerifiedBy = fromNull(verifiedBy)
	return a, nil
}

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, a.Wallet, a.Name, a.Email, a.Phone, a.Role, a.Status, a.CreatedAt, nullableStr(a.VerifiedAt), nullableStr(a.VerifiedBy), a.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("actor wallet %s: %w", a.Wallet, ErrDuplicate)
		}
		return err
	}
	for i, ref := range a.DocumentRefs {
		doc := domain.Document{
			ID:        fmt.Sprintf("%s-doc-%d", a.ID, i),
			OwnerKind: domain.OwnerActor,
			OwnerID:   a.ID,
			ContentID: ref,
			AddedBy:   a.ID,
			CreatedAt: a.CreatedAt,
		}
		if _, err := r.insertDocument(ctx, tx, doc); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	a, err := scanActor(r.DB.QueryRowContext(ctx, r.q(`SELECT `+actorColumns+` FROM actors WHERE id=?`), id))
	if err != nil {
		return a, err
	}
	return r.withActorRefs(ctx, a)
}

func (r Repo) GetActorByWallet(ctx context.Context, wallet string) (domain.Actor, error) {
	a, err := scanActor(r.DB.QueryRowContext(ctx, r.q(`SELECT `+actorColumns+` FROM actors WHERE wallet=?`), strings.ToLower(wallet)))
	if err != nil {
		return a, err
	}
	return r.withActorRefs(ctx, a)
}

func (r Repo) withActorRefs(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	refs, err := r.contentIDs(ctx, domain.OwnerActor, a.ID)
	if err != nil {
		return a, err
	}
	a.DocumentRefs = refs
	return a, nil
}

func (r Repo) UpdateActor(ctx context.Context, a domain.Actor, expectedVersion int64) (domain.Actor, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE actors SET name=?,email=?,phone=?,role=?,status=?,verified_at=?,verified_by=?,version=version+1 WHERE id=? AND version=?`),
		a.Name, a.Email, a.Phone, a.Role, a.Status, nullableStr(a.VerifiedAt), nullableStr(a.VerifiedBy), a.ID, expectedVersion)
	if err != nil {
		return a, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetActor(ctx, a.ID); err != nil {
			return a, err
		}
		return a, ErrConflict
	}
	return r.GetActor(ctx, a.ID)
}

func (r Repo) ListActors(ctx context.Context, filter ActorFilter) ([]domain.Actor, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Role != "" {
		where = append(where, "role=?")
		args = append(args, filter.Role)
	}
	query := `SELECT ` + actorColumns + ` FROM actors`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i], err = r.withActorRefs(ctx, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

const caseworkerColumns = `id,actor_id,name,phone,badge,department,created_at`

func scanCaseworker(row rowScanner) (domain.Caseworker, error) {
	var cw domain.Caseworker
	err := row.Scan(&cw.ID, &cw.ActorID, &cw.Name, &cw.Phone, &cw.Badge, &cw.Department, &cw.CreatedAt)
	if err == sql.ErrNoRows {
		return cw, ErrNotFound
	}
	return cw, err
}

func (r Repo) InsertCaseworker(ctx context.Context, cw domain.Caseworker) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO caseworkers(`+caseworkerColumns+`) VALUES (?,?,?,?,?,?,?)`),
		cw.ID, cw.ActorID, cw.Name, cw.Phone, cw.Badge, cw.Department, cw.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("caseworker %s: %w", cw.Badge, ErrDuplicate)
	}
	return err
}

func (r Repo) GetCaseworker(ctx context.Context, id string) (domain.Caseworker, error) {
	return scanCaseworker(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseworkerColumns+` FROM caseworkers WHERE id=?`), id))
}

func (r Repo) GetCaseworkerByActor(ctx context.Context, actorID string) (domain.Caseworker, error) {
	return scanCaseworker(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseworkerColumns+` FROM caseworkers WHERE actor_id=?`), actorID))
}

func (r Repo) GetCaseworkerByBadge(ctx context.Context, badge string) (domain.Caseworker, error) {
	return scanCaseworker(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseworkerColumns+` FROM caseworkers WHERE badge=?`), badge))
}

func (r Repo) ListCaseworkers(ctx context.Context) ([]domain.Caseworker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseworkerColumns+` FROM caseworkers ORDER BY created_at, badge`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Caseworker
	for rows.Next() {
		cw, err := scanCaseworker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cw)
	}
	return res, rows.Err()
}

func (r Repo) NextCaseSequence(ctx context.Context, year int) (int64, error) {
	var next int64
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO case_sequences(year,last) VALUES (?,1)
		ON CONFLICT(year) DO UPDATE SET last=case_sequences.last+1
		RETURNING last`), year).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next case sequence: %w", err)
	}
	return next, nil
}

const caseColumns = `id,number,submitter_id,category,incident_at,location,description,status,assigned_caseworker_id,tx_id,closing_comments,created_at,updated_at,closed_at,version`

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var assignee, txID, closing, closedAt sql.NullString
	err := row.Scan(&c.ID, &c.Number, &c.SubmitterID, &c.Category, &c.IncidentAt, &c.Location, &c.Description, &c.Status,
		&assignee, &txID, &closing, &c.CreatedAt, &c.UpdatedAt, &closedAt, &c.Version)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.AssignedCaseworkerID = fromNull(assignee)
	c.TxID = fromNull(txID)
	c.ClosingComments = fromNull(closing)
	c.ClosedAt = fromNull(closedAt)
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, c domain.Case) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.Number, c.SubmitterID, c.Category, c.IncidentAt, c.Location, c.Description, c.Status,
		nullableStr(c.AssignedCaseworkerID), nullableStr(c.TxID), nullableStr(c.ClosingComments), c.CreatedAt, c.UpdatedAt, nullableStr(c.ClosedAt), c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("case %s: %w", c.Number, ErrDuplicate)
		}
		return err
	}
	for i, ref := range c.EvidenceRefs {
		doc := domain.Document{
			ID:        fmt.Sprintf("%s-ev-%d", c.ID, i),
			OwnerKind: domain.OwnerCase,
			OwnerID:   c.ID,
			ContentID: ref,
			AddedBy:   c.SubmitterID,
			CreatedAt: c.CreatedAt,
		}
		if _, err := r.insertDocument(ctx, tx, doc); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id))
	if err != nil {
		return c, err
	}
	return r.withEvidence(ctx, c)
}

func (r Repo) GetCaseByNumber(ctx context.Context, number string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseColumns+` FROM cases WHERE number=?`), number))
	if err != nil {
		return c, err
	}
	return r.withEvidence(ctx, c)
}

func (r Repo) withEvidence(ctx context.Context, c domain.Case) (domain.Case, error) {
	refs, err := r.contentIDs(ctx, domain.OwnerCase, c.ID)
	if err != nil {
		return c, err
	}
	c.EvidenceRefs = refs
	return c, nil
}

func (r Repo) UpdateCase(ctx context.Context, c domain.Case, expectedVersion int64) (domain.Case, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE cases SET status=?,assigned_caseworker_id=?,tx_id=?,closing_comments=?,updated_at=?,closed_at=?,version=version+1 WHERE id=? AND version=?`),
		c.Status, nullableStr(c.AssignedCaseworkerID), nullableStr(c.TxID), nullableStr(c.ClosingComments), c.UpdatedAt, nullableStr(c.ClosedAt), c.ID, expectedVersion)
	if err != nil {
		return c, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetCase(ctx, c.ID); err != nil {
			return c, err
		}
		return c, ErrConflict
	}
	return r.GetCase(ctx, c.ID)
}

func (r Repo) ListCases(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	var (
		where []string
		args  []any
	)
	if filter.SubmitterID != "" {
		where = append(where, "submitter_id=?")
		args = append(args, filter.SubmitterID)
	}
	if filter.CaseworkerID != "" {
		where = append(where, "assigned_caseworker_id=?")
		args = append(args, filter.CaseworkerID)
	}
	if filter.Status != "" {
		where = append(where, "status=?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, number DESC"
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i], err = r.withEvidence(ctx, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) AppendCaseUpdate(ctx context.Context, u domain.CaseUpdate) (domain.CaseUpdate, error) {
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO case_updates(id,case_id,case_version,actor_id,previous_status,new_status,comment,tx_id,created_at) VALUES (?,?,?,?,?,?,?,?,?) RETURNING seq`),
		u.ID, u.CaseID, u.CaseVersion, u.ActorID, u.PreviousStatus, u.NewStatus, nullableStr(u.Comment), nullableStr(u.TxID), u.CreatedAt).Scan(&u.Seq)
	if err != nil {
		return u, fmt.Errorf("append case update: %w", err)
	}
	return u, nil
}

func (r Repo) ListCaseUpdates(ctx context.Context, caseID string) ([]domain.CaseUpdate, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT seq,id,case_id,case_version,actor_id,previous_status,new_status,comment,tx_id,created_at FROM case_updates WHERE case_id=? ORDER BY case_version DESC, seq DESC`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseUpdate
	for rows.Next() {
		var u domain.CaseUpdate
		var comment, txID sql.NullString
		if err := rows.Scan(&u.Seq, &u.ID, &u.CaseID, &u.CaseVersion, &u.ActorID, &u.PreviousStatus, &u.NewStatus, &comment, &txID, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Comment = fromNull(comment)
		u.TxID = fromNull(txID)
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) AddDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	return r.insertDocument(ctx, r.DB, d)
}

func (r Repo) insertDocument(ctx context.Context, ex execer, d domain.Document) (domain.Document, error) {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO documents(id,owner_kind,owner_id,content_id,filename,added_by,created_at) VALUES (?,?,?,?,?,?,?)`),
		d.ID, d.OwnerKind, d.OwnerID, d.ContentID, nullable(d.Filename), nullable(d.AddedBy), d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

func (r Repo) ListDocuments(ctx context.Context, ownerKind, ownerID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,owner_kind,owner_id,content_id,COALESCE(filename,''),COALESCE(added_by,''),created_at FROM documents WHERE owner_kind=? AND owner_id=? ORDER BY seq`), ownerKind, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.OwnerKind, &d.OwnerID, &d.ContentID, &d.Filename, &d.AddedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) contentIDs(ctx context.Context, ownerKind, ownerID string) ([]string, error) {
	docs, err := r.ListDocuments(ctx, ownerKind, ownerID)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, d.ContentID)
	}
	return refs, nil
}

func (r Repo) AppendEvent(ctx context.Context, evt domain.Event) (domain.Event, error) {
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?) RETURNING id`),
		evt.TS, evt.Type, evt.EntityKind, nullable(evt.EntityID), evt.ActorID, evt.Payload).Scan(&evt.ID)
	if err != nil {
		return evt, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
