package api

import (
	"context"
	"net/http"
	"strings"

	"mlreg/internal/auth"
	"mlreg/internal/registry"
)

const tokenHeader = "X-Authorization"

type ctxKey int

const sessionKey ctxKey = iota

type session struct {
	identity auth.Identity
	header   string
}

// tokenFrom returns the presented token header, preferring X-Authorization.
func tokenFrom(r *http.Request) string {
	if v := r.Header.Get(tokenHeader); strings.TrimSpace(v) != "" {
		return v
	}
	return r.Header.Get("Authorization")
}

func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := tokenFrom(r)
		id, err := a.auth.Verify(r.Context(), header)
		if err != nil {
			a.respondErr(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, session{identity: id, header: header})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) session {
	s, _ := ctx.Value(sessionKey).(session)
	return s
}

// caller describes the session for the registry. The bare token is forwarded
// to the scorer.
func (s session) caller() registry.Caller {
	token, _ := auth.ParseBearer(s.header)
	return registry.Caller{Name: s.identity.Name, Credential: token}
}
