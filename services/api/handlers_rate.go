package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mlreg/internal/artifacts"
	"mlreg/internal/registry"
)

func (a *API) handleRate(w http.ResponseWriter, r *http.Request) {
	header := tokenFrom(r)
	if strings.TrimSpace(header) == "" {
		respondError(w, http.StatusForbidden, msgMissingToken)
		return
	}
	id, err := a.auth.Verify(r.Context(), header)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	s := session{identity: id, header: header}

	rating, err := a.registry.Rate(r.Context(), chi.URLParam(r, "id"), s.caller())
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, rating)
	case registry.ErrValidation.Has(err), errors.Is(err, artifacts.ErrNotFound):
		a.respondErr(w, r, err)
	default:
		a.log.Error().Err(err).
			Str("id", chi.URLParam(r, "id")).
			Bool("timeout", errors.Is(err, context.DeadlineExceeded)).
			Msg("rate artifact")
		respondError(w, http.StatusInternalServerError, msgRatingFailed)
	}
}
