package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

var ledgerErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusBadGateway,
	http.StatusGatewayTimeout,
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "file-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "File a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body FileCaseRequest `json:"body"`
	}) (*struct {
		Body CaseMutationResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		incidentAt, err := time.Parse(time.RFC3339, strings.TrimSpace(input.Body.IncidentAt))
		if err != nil {
			return nil, handleError(&engine.ValidationError{Field: "incident_at", Reason: "must be an RFC3339 timestamp"})
		}
		c, conf, err := e.FileCase(ctx, engine.FileCaseOptions{
			ActorID:      actingID,
			Category:     input.Body.Category,
			IncidentAt:   incidentAt,
			Location:     input.Body.Location,
			Description:  input.Body.Description,
			EvidenceRefs: input.Body.EvidenceRefs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		c.EvidenceRefs = nonNilSlice(c.EvidenceRefs)
		return &struct {
			Body CaseMutationResponse `json:"body"`
		}{Body: CaseMutationResponse{Case: c, Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases visible to the caller",
		Description: "scope defaults to all for admins, assigned for caseworkers and submitted otherwise.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Scope  string `query:"scope" enum:"all,submitted,assigned"`
		Status string `query:"status" enum:"pending,in_progress,closed,rejected"`
	}) (*struct {
		Body []CaseResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filter, err := e.CaseScope(ctx, actingID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		filter.Status = domain.CaseStatus(input.Status)
		items, err := e.ListCases(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CaseResponse, 0, len(items))
		for _, d := range items {
			res = append(res, caseResponse(d))
		}
		return &struct {
			Body []CaseResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case with submitter, caseworker and history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ViewCase(ctx, actingID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-updates",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/updates",
		Summary:     "Case audit trail, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.CaseUpdate `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ViewCase(ctx, actingID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CaseUpdate `json:"body"`
		}{Body: nonNilSlice(d.Updates)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-caseworker",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/assignment",
		Summary:     "Assign a caseworker",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string        `path:"case_id"`
		Body   AssignRequest `json:"body"`
	}) (*struct {
		Body CaseMutationResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.CaseworkerID) == "" {
			return nil, handleError(&engine.ValidationError{Field: "caseworker_id", Reason: "is required"})
		}
		c, conf, err := e.AssignCaseworker(ctx, actingID, input.CaseID, input.Body.CaseworkerID)
		if err != nil {
			return nil, handleError(err)
		}
		c.EvidenceRefs = nonNilSlice(c.EvidenceRefs)
		return &struct {
			Body CaseMutationResponse `json:"body"`
		}{Body: CaseMutationResponse{Case: c, Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case-status",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/status",
		Summary:     "Move a case along its lifecycle",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string        `path:"case_id"`
		Body   StatusRequest `json:"body"`
	}) (*struct {
		Body CaseMutationResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, upd, conf, err := e.UpdateStatus(ctx, engine.StatusOptions{
			ActorID: actingID,
			CaseID:  input.CaseID,
			Status:  domain.CaseStatus(input.Body.Status),
			Comment: input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		c.EvidenceRefs = nonNilSlice(c.EvidenceRefs)
		return &struct {
			Body CaseMutationResponse `json:"body"`
		}{Body: CaseMutationResponse{Case: c, Update: &upd, Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-evidence",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/evidence",
		Summary:     "Attach an evidence reference",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   DocumentRefRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AttachEvidence(ctx, actingID, input.CaseID, input.Body.ContentID, input.Body.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		c.EvidenceRefs = nonNilSlice(c.EvidenceRefs)
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})
}
