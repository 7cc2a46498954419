package server

import (
	"caseline/internal/domain"
	"caseline/internal/engine"
)

// Request payloads

type RegisterActorRequest struct {
	Wallet       string   `json:"wallet"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	DocumentRefs []string `json:"document_refs,omitempty"`
	// Message and Signature prove wallet ownership (see /auth/login).
	Message   string `json:"message,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type VerificationRequest struct {
	Status string `json:"status" enum:"verified,rejected"`
}

type DocumentRefRequest struct {
	ContentID string `json:"content_id"`
	Filename  string `json:"filename,omitempty"`
}

type CreateCaseworkerRequest struct {
	ActorID    string `json:"actor_id,omitempty"`
	Wallet     string `json:"wallet,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Badge      string `json:"badge"`
	Department string `json:"department"`
}

type FileCaseRequest struct {
	Category     string   `json:"category"`
	IncidentAt   string   `json:"incident_at" format:"date-time"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

type AssignRequest struct {
	CaseworkerID string `json:"caseworker_id"`
}

type StatusRequest struct {
	Status  string `json:"status" enum:"pending,in_progress,closed,rejected"`
	Comment string `json:"comment,omitempty"`
}

type LoginRequest struct {
	Wallet    string `json:"wallet"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Wallet  string `json:"wallet,omitempty"`
}

// Responses

type LoginResponse struct {
	Token     string `json:"token"`
	ActorID   string `json:"actor_id"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Wallet      string   `json:"wallet"`
	Role        string   `json:"role"`
	Status      string   `json:"status"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type ConfirmationResponse struct {
	State  string `json:"state" enum:"confirmed,unconfirmed,skipped"`
	TxID   string `json:"tx_id,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ActorResponse struct {
	Actor      domain.Actor       `json:"actor"`
	Caseworker *domain.Caseworker `json:"caseworker,omitempty"`
}

type ActorMutationResponse struct {
	Actor        domain.Actor         `json:"actor"`
	Confirmation ConfirmationResponse `json:"confirmation"`
}

type CaseworkerResponse struct {
	Caseworker  domain.Caseworker `json:"caseworker"`
	Actor       domain.Actor      `json:"actor"`
	ActiveCases int               `json:"active_cases"`
	ClosedCases int               `json:"closed_cases"`
}

type CaseworkerMutationResponse struct {
	Caseworker   CaseworkerResponse   `json:"caseworker"`
	Confirmation ConfirmationResponse `json:"confirmation"`
}

type CaseResponse struct {
	Case       domain.Case         `json:"case"`
	Submitter  domain.Actor        `json:"submitter"`
	Caseworker *CaseworkerResponse `json:"caseworker,omitempty"`
	Updates    []domain.CaseUpdate `json:"updates"`
}

type CaseMutationResponse struct {
	Case         domain.Case          `json:"case"`
	Update       *domain.CaseUpdate   `json:"update,omitempty"`
	Confirmation ConfirmationResponse `json:"confirmation"`
}

type DocumentResponse struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	Size      int    `json:"size"`
}

type EventsResponse struct {
	Items     []domain.Event `json:"items"`
	NextAfter int64          `json:"next_after"`
}

func confirmationResponse(c engine.Confirmation) ConfirmationResponse {
	return ConfirmationResponse{
		State:  string(c.State),
		TxID:   c.TxID,
		Kind:   string(c.Kind),
		Reason: c.Reason,
	}
}

func actorResponse(a domain.ActorWithProfile) ActorResponse {
	a.Actor.DocumentRefs = nonNilSlice(a.Actor.DocumentRefs)
	return ActorResponse{Actor: a.Actor, Caseworker: a.Caseworker}
}

func caseworkerResponse(d domain.CaseworkerDetails) CaseworkerResponse {
	d.Actor.DocumentRefs = nonNilSlice(d.Actor.DocumentRefs)
	return CaseworkerResponse{
		Caseworker:  d.Caseworker,
		Actor:       d.Actor,
		ActiveCases: d.ActiveCases,
		ClosedCases: d.ClosedCases,
	}
}

func caseResponse(d domain.CaseDetails) CaseResponse {
	d.Case.EvidenceRefs = nonNilSlice(d.Case.EvidenceRefs)
	d.Submitter.DocumentRefs = nonNilSlice(d.Submitter.DocumentRefs)
	res := CaseResponse{
		Case:      d.Case,
		Submitter: d.Submitter,
		Updates:   d.Updates,
	}
	if res.Updates == nil {
		res.Updates = []domain.CaseUpdate{}
	}
	if d.Caseworker != nil {
		cw := caseworkerResponse(*d.Caseworker)
		res.Caseworker = &cw
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
