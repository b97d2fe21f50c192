package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mlreg/internal/artifacts"
	"mlreg/internal/registry"
)

func (a *API) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondErr(w, r, registry.ErrValidation.New("request body must be a JSON object with a url"))
		return
	}

	art, err := a.registry.Create(r.Context(), chi.URLParam(r, "type"), req.URL, sessionFrom(r.Context()).caller())
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, art)
}

func (a *API) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := a.registry.Get(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, art)
}

func (a *API) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	var body artifacts.Artifact
	if err := decodeJSON(r, &body); err != nil {
		a.respondErr(w, r, registry.ErrValidation.New("request body must be an artifact"))
		return
	}

	art, err := a.registry.Update(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), body)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, art)
}
