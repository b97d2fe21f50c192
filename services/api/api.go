// Package api exposes the registry over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"mlreg/internal/artifacts"
	"mlreg/internal/auth"
	"mlreg/internal/oracle"
	"mlreg/internal/registry"
)

const (
	defaultRequestTimeout = 75 * time.Second
	defaultRateLimit      = 600
)

// Authenticator issues and checks bearer tokens.
type Authenticator interface {
	Login(ctx context.Context, name, password string, isAdmin bool) (string, error)
	Verify(ctx context.Context, header string) (auth.Identity, error)
	RequireAdmin(id auth.Identity) error
	Logout(ctx context.Context, header string) error
}

// Registry serves artifact operations.
type Registry interface {
	Create(ctx context.Context, typeName, rawURL string, caller registry.Caller) (artifacts.Artifact, error)
	Get(ctx context.Context, typeName, id string) (artifacts.Artifact, error)
	Update(ctx context.Context, typeName, id string, body artifacts.Artifact) (artifacts.Artifact, error)
	Rate(ctx context.Context, id string, caller registry.Caller) (oracle.Rating, error)
}

// Options configures the HTTP layer.
type Options struct {
	Auth     Authenticator
	Registry Registry
	// Reset wipes registry state for DELETE /reset.
	Reset func(ctx context.Context) error
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger

	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	// Middleware runs outermost, before routing.
	Middleware []func(http.Handler) http.Handler
}

// API holds the HTTP handlers.
type API struct {
	auth     Authenticator
	registry Registry
	reset    func(ctx context.Context) error
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	opts     Options
}

// New validates opts and returns an API.
func New(opts Options) (*API, error) {
	if opts.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Reset == nil {
		return nil, errors.New("reset func is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = defaultRateLimit
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	return &API{
		auth:     opts.Auth,
		registry: opts.Registry,
		reset:    opts.Reset,
		gatherer: opts.Gatherer,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		opts:     opts,
	}, nil
}
