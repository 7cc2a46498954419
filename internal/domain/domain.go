package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	RoleNone       Role = "none"
	RoleSubmitter  Role = "submitter"
	RoleCaseworker Role = "caseworker"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleSubmitter, RoleCaseworker, RoleAdmin:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

type CaseStatus string

const (
	CasePending    CaseStatus = "pending"
	CaseInProgress CaseStatus = "in_progress"
	CaseClosed     CaseStatus = "closed"
	CaseRejected   CaseStatus = "rejected"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CasePending, CaseInProgress, CaseClosed, CaseRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s CaseStatus) Terminal() bool {
	return s == CaseClosed || s == CaseRejected
}

// AllCaseStatuses lists statuses in lifecycle order.
var AllCaseStatuses = []CaseStatus{CasePending, CaseInProgress, CaseClosed, CaseRejected}

const (
	OwnerActor = "actor"
	OwnerCase  = "case"
)

type Actor struct {
	ID           string             `json:"id"`
	Wallet       string             `json:"wallet"`
	Name         string             `json:"name,omitempty"`
	Email        string             `json:"email,omitempty"`
	Phone        string             `json:"phone,omitempty"`
	Role         Role               `json:"role" enum:"none,submitter,caseworker,admin"`
	Status       VerificationStatus `json:"status" enum:"pending,verified,rejected"`
	DocumentRefs []string           `json:"document_refs"`
	CreatedAt    string             `json:"created_at" format:"date-time"`
	VerifiedAt   *string            `json:"verified_at,omitempty" format:"date-time"`
	VerifiedBy   *string            `json:"verified_by,omitempty"`
	Version      int64              `json:"version"`
}

type Caseworker struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Badge      string `json:"badge"`
	Department string `json:"department"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// ActorWithProfile is an actor enriched with its caseworker profile, if any.
type ActorWithProfile struct {
	Actor      Actor
	Caseworker *Caseworker
}

// CaseworkerDetails joins a profile with its actor and derived case counts.
type CaseworkerDetails struct {
	Caseworker  Caseworker
	Actor       Actor
	ActiveCases int
	ClosedCases int
}

type Case struct {
	ID                   string     `json:"id"`
	Number               string     `json:"number"`
	SubmitterID          string     `json:"submitter_id"`
	Category             string     `json:"category"`
	IncidentAt           string     `json:"incident_at" format:"date-time"`
	Location             string     `json:"location"`
	Description          string     `json:"description"`
	EvidenceRefs         []string   `json:"evidence_refs"`
	Status               CaseStatus `json:"status" enum:"pending,in_progress,closed,rejected"`
	AssignedCaseworkerID *string    `json:"assigned_caseworker_id,omitempty"`
	TxID                 *string    `json:"tx_id,omitempty"`
	ClosingComments      *string    `json:"closing_comments,omitempty"`
	CreatedAt            string     `json:"created_at" format:"date-time"`
	UpdatedAt            string     `json:"updated_at" format:"date-time"`
	ClosedAt             *string    `json:"closed_at,omitempty" format:"date-time"`
	Version              int64      `json:"version"`
}

type CaseUpdate struct {
	ID             string     `json:"id"`
	Seq            int64      `json:"seq"`
	CaseID         string     `json:"case_id"`
	CaseVersion    int64      `json:"case_version"`
	ActorID        string     `json:"actor_id"`
	PreviousStatus CaseStatus `json:"previous_status"`
	NewStatus      CaseStatus `json:"new_status"`
	Comment        *string    `json:"comment,omitempty"`
	TxID           *string    `json:"tx_id,omitempty"`
	CreatedAt      string     `json:"created_at" format:"date-time"`
}

// CaseDetails is the read model of a case with its participants and history.
type CaseDetails struct {
	Case       Case
	Submitter  Actor
	Caseworker *CaseworkerDetails
	Updates    []CaseUpdate
}

type Document struct {
	ID        string `json:"id"`
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	ContentID string `json:"content_id"`
	Filename  string `json:"filename,omitempty"`
	AddedBy   string `json:"added_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type Stats struct {
	TotalCases           int                `json:"total_cases"`
	PendingVerifications int                `json:"pending_verifications"`
	Caseworkers          int                `json:"caseworkers"`
	ClosedCases          int                `json:"closed_cases"`
	CasesByStatus        map[CaseStatus]int `json:"cases_by_status"`
}

// NormalizeWallet validates a hex wallet address and returns its lowercase form.
func NormalizeWallet(wallet string) (string, bool) {
	wallet = strings.TrimSpace(wallet)
	if !common.IsHexAddress(wallet) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(wallet).Hex()), true
}
