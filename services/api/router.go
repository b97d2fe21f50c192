package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all registry endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range a.opts.Middleware {
		r.Use(mw)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", tokenHeader},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.LimitByIP(a.opts.RateLimitPerMinute, time.Minute))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.opts.RequestTimeout))

	r.Get("/health", a.handleHealth)
	r.Get("/tracks", a.handleTracks)
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Put("/authenticate", a.handleLogin)

	// The rate route reports a missing header with its own message, so it
	// authenticates inside the handler.
	r.Get("/artifact/model/{id}/rate", a.handleRate)

	r.Group(func(r chi.Router) {
		r.Use(a.requireToken)

		r.Delete("/authenticate", a.handleLogout)
		r.Post("/artifact/{type}", a.handleCreateArtifact)
		r.Get("/artifacts/{type}/{id}", a.handleGetArtifact)
		r.Put("/artifacts/{type}/{id}", a.handleUpdateArtifact)
		r.Delete("/reset", a.handleReset)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleTracks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"plannedTracks": []string{"Access control track"}})
}
