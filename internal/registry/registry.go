// Package registry orchestrates artifact creation, lookup, update, rating
// and reset on top of the artifact store and the admission controller.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/errs"

	"mlreg/internal/admission"
	"mlreg/internal/artifacts"
	"mlreg/internal/oracle"
	"mlreg/pkg/metrics"
)

var (
	// ErrValidation marks malformed requests.
	ErrValidation = errs.Class("validation")
	// ErrDisqualified is returned when the admission controller rejects a candidate.
	ErrDisqualified = errors.New("artifact not registered due to disqualified rating")
	// ErrCorruptRecord is returned when a stored artifact fails shape validation.
	ErrCorruptRecord = errors.New("stored artifact record is malformed")
)

// Store is the artifact persistence the registry needs.
type Store interface {
	Create(ctx context.Context, typ artifacts.Type, rawURL, name string) (artifacts.Artifact, error)
	Get(ctx context.Context, typ artifacts.Type, id string) (artifacts.Artifact, error)
	Lookup(ctx context.Context, rawURL string) (artifacts.Ref, error)
	Update(ctx context.Context, typ artifacts.Type, id, rawURL string) (artifacts.Artifact, error)
	Reset(ctx context.Context) error
}

// Gate screens candidate URLs.
type Gate interface {
	Screen(ctx context.Context, url, credential string) admission.Decision
}

// Caller identifies who is acting and carries the token forwarded to the oracle.
type Caller struct {
	Name       string
	Credential string
}

// Options configures a Registry.
type Options struct {
	// RateTimeout bounds a rating lookup. Defaults to admission.DefaultTimeout.
	RateTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Recorder
}

// Registry is the artifact registry.
type Registry struct {
	store       Store
	gate        Gate
	oracle      oracle.Oracle
	rateTimeout time.Duration
	log         zerolog.Logger
	metrics     *metrics.Recorder
}

// New returns a Registry.
func New(store Store, gate Gate, o oracle.Oracle, opts Options) (*Registry, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if gate == nil {
		return nil, errors.New("admission gate is required")
	}
	if o == nil {
		return nil, errors.New("oracle is required")
	}
	timeout := opts.RateTimeout
	if timeout <= 0 {
		timeout = admission.DefaultTimeout
	}
	return &Registry{
		store:       store,
		gate:        gate,
		oracle:      o,
		rateTimeout: timeout,
		log:         opts.Logger.With().Str("component", "registry").Logger(),
		metrics:     opts.Metrics,
	}, nil
}

// observe is deferred with a pointer to the named result so the outcome is
// read on return.
func (r *Registry) observe(op string, start time.Time, err *error) {
	r.metrics.RecordArtifactOperation(op, *err == nil, time.Since(start))
}

// Create validates, screens and persists a new artifact.
func (r *Registry) Create(ctx context.Context, typeName, rawURL string, caller Caller) (_ artifacts.Artifact, err error) {
	defer r.observe("create", time.Now(), &err)

	c := &creation{stage: StageReceived}
	defer func() {
		final, reached, reason := c.finish(err)
		r.log.Debug().
			Str("caller", caller.Name).
			Str("url", rawURL).
			Str("stage", string(final)).
			Str("reached", string(reached)).
			Str("reason", reason).
			Msg("create finished")
	}()

	typ, err := artifacts.ParseType(typeName)
	if err != nil {
		return artifacts.Artifact{}, ErrValidation.Wrap(err)
	}
	if _, err := artifacts.NormalizeURL(rawURL); err != nil {
		return artifacts.Artifact{}, ErrValidation.New("url must be an absolute URL")
	}
	name := DeriveName(rawURL)
	c.advance(StageValidated)

	// Known duplicates are refused before paying for a rating.
	if _, err := r.store.Lookup(ctx, rawURL); err == nil {
		return artifacts.Artifact{}, artifacts.ErrAlreadyExists
	} else if !errors.Is(err, artifacts.ErrNotFound) {
		return artifacts.Artifact{}, err
	}

	decision := r.gate.Screen(ctx, rawURL, caller.Credential)
	if !decision.Accepted {
		r.log.Info().
			Str("caller", caller.Name).
			Str("url", rawURL).
			Float64("score", decision.Score).
			Str("reason", decision.Reason).
			Msg("artifact disqualified")
		return artifacts.Artifact{}, ErrDisqualified
	}
	c.advance(StageScreened)

	art, err := r.store.Create(ctx, typ, rawURL, name)
	if err != nil {
		return artifacts.Artifact{}, err
	}

	r.log.Info().
		Str("caller", caller.Name).
		Str("type", string(typ)).
		Str("id", art.Metadata.ID).
		Str("url", art.Data.URL).
		Float64("score", decision.Score).
		Msg("artifact registered")
	return art, nil
}

// Get returns a stored artifact after checking that it is well formed.
func (r *Registry) Get(ctx context.Context, typeName, id string) (_ artifacts.Artifact, err error) {
	defer r.observe("get", time.Now(), &err)

	typ, err := parseTypeAndID(typeName, id)
	if err != nil {
		return artifacts.Artifact{}, err
	}

	art, err := r.store.Get(ctx, typ, id)
	if errors.Is(err, artifacts.ErrCorrupt) {
		r.log.Error().Err(err).Str("type", typeName).Str("id", id).Msg("undecodable artifact record")
		return artifacts.Artifact{}, ErrCorruptRecord
	}
	if err != nil {
		return artifacts.Artifact{}, err
	}
	if err := validateShape(art); err != nil {
		r.log.Error().Err(err).Str("type", typeName).Str("id", id).Msg("malformed artifact record")
		return artifacts.Artifact{}, ErrCorruptRecord
	}
	return art, nil
}

// Update replaces the URL of an artifact. The body must name the same
// artifact as the path and carry the stored name.
func (r *Registry) Update(ctx context.Context, typeName, id string, body artifacts.Artifact) (_ artifacts.Artifact, err error) {
	defer r.observe("update", time.Now(), &err)

	typ, err := parseTypeAndID(typeName, id)
	if err != nil {
		return artifacts.Artifact{}, err
	}
	if body.Metadata.ID != id || body.Metadata.Type != typ {
		return artifacts.Artifact{}, ErrValidation.New("metadata id and type must match the path")
	}
	if body.Metadata.Name == "" {
		return artifacts.Artifact{}, ErrValidation.New("metadata name is required")
	}
	if _, err := artifacts.NormalizeURL(body.Data.URL); err != nil {
		return artifacts.Artifact{}, ErrValidation.New("url must be an absolute URL")
	}

	current, err := r.store.Get(ctx, typ, id)
	if err != nil {
		return artifacts.Artifact{}, err
	}
	if current.Metadata.Name != body.Metadata.Name {
		return artifacts.Artifact{}, ErrValidation.New("metadata name does not match the stored artifact")
	}

	return r.store.Update(ctx, typ, id, body.Data.URL)
}

// Rate looks up a model and returns the oracle's full rating for it.
func (r *Registry) Rate(ctx context.Context, id string, caller Caller) (_ oracle.Rating, err error) {
	defer r.observe("rate", time.Now(), &err)

	if !artifacts.ValidID(id) {
		return oracle.Rating{}, ErrValidation.New("invalid artifact id")
	}
	art, err := r.store.Get(ctx, artifacts.TypeModel, id)
	if err != nil {
		return oracle.Rating{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.rateTimeout)
	defer cancel()

	rating, err := r.oracle.Rate(ctx, art.Data.URL, caller.Credential)
	if err != nil {
		return oracle.Rating{}, err
	}
	if rating.Name == "" {
		rating.Name = art.Metadata.Name
	}
	return rating, nil
}

// Reset deletes every artifact.
func (r *Registry) Reset(ctx context.Context) (err error) {
	defer r.observe("reset", time.Now(), &err)

	if err := r.store.Reset(ctx); err != nil {
		return err
	}
	r.log.Warn().Msg("registry reset")
	return nil
}

func parseTypeAndID(typeName, id string) (artifacts.Type, error) {
	typ, err := artifacts.ParseType(typeName)
	if err != nil {
		return "", ErrValidation.Wrap(err)
	}
	if !artifacts.ValidID(id) {
		return "", ErrValidation.New("invalid artifact id")
	}
	return typ, nil
}

func validateShape(art artifacts.Artifact) error {
	if art.Metadata.Name == "" {
		return errors.New("empty name")
	}
	if !artifacts.ValidID(art.Metadata.ID) {
		return errors.New("invalid id")
	}
	if _, err := artifacts.ParseType(string(art.Metadata.Type)); err != nil {
		return err
	}
	if _, err := artifacts.NormalizeURL(art.Data.URL); err != nil {
		return err
	}
	return nil
}
