package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"caseline/internal/content"
)

func registerDocuments(api huma.API, router chi.Router, basePath string, cfg Config) {
	if cfg.Content == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Upload a document and receive its content id",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  cfg.MaxUploadBytes,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Filename string `query:"filename"`
		RawBody  []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "document body is empty", map[string]any{"field": "body"})
		}
		id, err := cfg.Content.Put(ctx, input.RawBody, input.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		url := cfg.Content.URL(id)
		if strings.HasPrefix(url, "/") {
			url = joinBase(basePath, url)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: DocumentResponse{ContentID: id, URL: url, Filename: input.Filename, Size: len(input.RawBody)}}, nil
	})

	getter, ok := cfg.Content.(content.Getter)
	if !ok {
		return
	}
	router.Get(joinBase(basePath, "documents/{cid}"), func(w http.ResponseWriter, r *http.Request) {
		data, err := getter.Get(r.Context(), chi.URLParam(r, "cid"))
		if err != nil {
			if errors.Is(err, content.ErrNotFound) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "document not found", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": "cid"}))
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Write(data)
	})
}
