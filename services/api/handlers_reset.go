package api

import (
	"errors"
	"net/http"

	"mlreg/internal/auth"
)

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if err := a.auth.RequireAdmin(s.identity); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			respondError(w, http.StatusUnauthorized, msgResetForbidden)
			return
		}
		a.respondErr(w, r, err)
		return
	}

	if err := a.reset(r.Context()); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.log.Warn().Str("user", s.identity.Name).Msg("registry reset")
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
