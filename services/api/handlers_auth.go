package api

import (
	"net/http"
	"strings"
)

type authenticationRequest struct {
	User struct {
		Name    string `json:"name"`
		IsAdmin *bool  `json:"is_admin"`
	} `json:"user"`
	Secret struct {
		Password string `json:"password"`
	} `json:"secret"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authenticationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, msgBadAuthRequest)
		return
	}
	if strings.TrimSpace(req.User.Name) == "" || req.User.IsAdmin == nil || req.Secret.Password == "" {
		respondError(w, http.StatusBadRequest, msgBadAuthRequest)
		return
	}

	token, err := a.auth.Login(r.Context(), req.User.Name, req.Secret.Password, *req.User.IsAdmin)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), sessionFrom(r.Context()).header); err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
