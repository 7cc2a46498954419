package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
)

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange a signed wallet login message for a JWT",
		Description: "Sign `caseline login <wallet> <unix seconds>` with personal_sign.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		now := time.Now()
		if err := auth.VerifyLogin(input.Body.Wallet, input.Body.Message, input.Body.Signature, now); err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
		}
		found, ok, err := e.ResolveActor(ctx, input.Body.Wallet)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "wallet is not registered", nil)
		}
		return issueToken(authCfg, found.Actor, now)
	})

	if !authCfg.DevMode {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an actor without a signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		var a domain.Actor
		switch {
		case strings.TrimSpace(input.Body.ActorID) != "":
			found, err := e.GetActor(ctx, strings.TrimSpace(input.Body.ActorID))
			if err != nil {
				return nil, handleError(err)
			}
			a = found.Actor
		case strings.TrimSpace(input.Body.Wallet) != "":
			found, ok, err := e.ResolveActor(ctx, input.Body.Wallet)
			if err != nil {
				return nil, handleError(err)
			}
			if !ok {
				return nil, newAPIError(http.StatusNotFound, "not_found", "wallet is not registered", nil)
			}
			a = found.Actor
		default:
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "actor_id or wallet is required", map[string]any{"field": "actor_id"})
		}
		return issueToken(authCfg, a, time.Now())
	})
}

func issueToken(authCfg AuthConfig, a domain.Actor, now time.Time) (*struct {
	Body LoginResponse `json:"body"`
}, error) {
	token, exp, err := signToken(authCfg.JWTSecret, a.ID, a.Wallet, authCfg.ttl(), now)
	if err != nil {
		return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
	return &struct {
		Body LoginResponse `json:"body"`
	}{Body: LoginResponse{Token: token, ActorID: a.ID, ExpiresAt: exp.UTC().Format(time.RFC3339)}}, nil
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, _ := principalFromContext(ctx)
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms := []string{}
		if a.Actor.Status == domain.VerificationVerified {
			perms = auth.Permissions(a.Actor.Role)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     a.Actor.ID,
			Wallet:      a.Actor.Wallet,
			Role:        string(a.Actor.Role),
			Status:      string(a.Actor.Status),
			Permissions: nonNilSlice(perms),
			Source:      principal.Source,
		}}, nil
	})
}

func registerActors(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register a wallet for verification",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*struct {
		Body ActorMutationResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if input.Body.Signature != "" || !authCfg.DevMode {
			if err := auth.VerifyLogin(input.Body.Wallet, input.Body.Message, input.Body.Signature, time.Now()); err != nil {
				return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
			}
		}
		a, conf, err := e.RegisterActor(ctx, engine.RegisterOptions{
			Wallet:       input.Body.Wallet,
			Name:         input.Body.Name,
			Email:        input.Body.Email,
			Phone:        input.Body.Phone,
			DocumentRefs: input.Body.DocumentRefs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		a.DocumentRefs = nonNilSlice(a.DocumentRefs)
		return &struct {
			Body ActorMutationResponse `json:"body"`
		}{Body: ActorMutationResponse{Actor: a, Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-actors",
		Method:      http.MethodGet,
		Path:        "/actors/pending",
		Summary:     "Actors awaiting verification",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Authorize(ctx, actorID, auth.PermActorReadPending); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListPending(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range items {
			items[i].DocumentRefs = nonNilSlice(items[i].DocumentRefs)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}",
		Summary:     "Get actor",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actorID != input.ActorID {
			if _, err := e.Authorize(ctx, actorID, auth.PermActorReadPending); err != nil {
				return nil, handleError(err)
			}
		}
		a, err := e.GetActor(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-actor",
		Method:      http.MethodGet,
		Path:        "/actors/by-wallet/{wallet}",
		Summary:     "Resolve a wallet to its actor and caseworker profile",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Wallet string `path:"wallet"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		found, ok, err := e.ResolveActor(ctx, input.Wallet)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok || found.Actor.ID != actorID {
			if _, err := e.Authorize(ctx, actorID, auth.PermActorReadPending); err != nil {
				return nil, handleError(err)
			}
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "wallet is not registered", nil)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(found)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-verification",
		Method:      http.MethodPost,
		Path:        "/actors/{actor_id}/verification",
		Summary:     "Verify or reject a pending actor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string              `path:"actor_id"`
		Body    VerificationRequest `json:"body"`
	}) (*struct {
		Body ActorMutationResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, conf, err := e.SetVerification(ctx, actingID, input.ActorID, domain.VerificationStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		a.DocumentRefs = nonNilSlice(a.DocumentRefs)
		return &struct {
			Body ActorMutationResponse `json:"body"`
		}{Body: ActorMutationResponse{Actor: a, Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-actor-document",
		Method:      http.MethodPost,
		Path:        "/actors/{actor_id}/documents",
		Summary:     "Attach an identity document reference",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string             `path:"actor_id"`
		Body    DocumentRefRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddActorDocument(ctx, actingID, input.ActorID, input.Body.ContentID, input.Body.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		a.DocumentRefs = nonNilSlice(a.DocumentRefs)
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})
}

func registerCaseworkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-caseworker",
		Method:        http.MethodPost,
		Path:          "/caseworkers",
		Summary:       "Create a caseworker profile",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseworkerRequest `json:"body"`
	}) (*struct {
		Body CaseworkerMutationResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, conf, err := e.CreateCaseworker(ctx, engine.CaseworkerOptions{
			ActingID:   actingID,
			ActorID:    input.Body.ActorID,
			Wallet:     input.Body.Wallet,
			Name:       input.Body.Name,
			Phone:      input.Body.Phone,
			Badge:      input.Body.Badge,
			Department: input.Body.Department,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseworkerMutationResponse `json:"body"`
		}{Body: CaseworkerMutationResponse{Caseworker: caseworkerResponse(d), Confirmation: confirmationResponse(conf)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-caseworkers",
		Method:      http.MethodGet,
		Path:        "/caseworkers",
		Summary:     "List caseworkers with case counts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CaseworkerResponse `json:"body"`
	}, error) {
		actingID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Authorize(ctx, actingID, auth.PermCaseworkerRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListCaseworkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CaseworkerResponse, 0, len(items))
		for _, d := range items {
			res = append(res, caseworkerResponse(d))
		}
		return &struct {
			Body []CaseworkerResponse `json:"body"`
		}{Body: res}, nil
	})
}
