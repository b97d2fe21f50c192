// Package admission decides whether a candidate artifact is rated well enough
// to be registered.
package admission

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mlreg/internal/oracle"
	"mlreg/pkg/metrics"
)

const (
	// DefaultThreshold is the minimum net score for admission.
	DefaultThreshold = 0.5
	// DefaultTimeout bounds a single oracle call.
	DefaultTimeout = 60 * time.Second
)

// Decision is the outcome of screening one URL.
type Decision struct {
	Accepted  bool
	Score     float64
	Threshold float64
	// Reason is empty for accepted candidates.
	Reason string
}

// Options configures a Controller.
type Options struct {
	Threshold float64
	Timeout   time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Recorder
}

// Controller screens candidates through a rating oracle. It fails closed:
// any oracle error counts as a zero score.
type Controller struct {
	oracle    oracle.Oracle
	threshold float64
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *metrics.Recorder
}

// New returns a Controller.
func New(o oracle.Oracle, opts Options) (*Controller, error) {
	if o == nil {
		return nil, errors.New("oracle is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		oracle:    o,
		threshold: ClampThreshold(opts.Threshold),
		timeout:   timeout,
		log:       opts.Logger.With().Str("component", "admission").Logger(),
		metrics:   opts.Metrics,
	}, nil
}

// ClampThreshold limits t to [0, 1]. NaN yields DefaultThreshold.
func ClampThreshold(t float64) float64 {
	switch {
	case math.IsNaN(t):
		return DefaultThreshold
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

// Threshold returns the effective admission threshold.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Screen rates url and accepts it when the net score reaches the threshold.
func (c *Controller) Screen(ctx context.Context, url, credential string) Decision {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	rating, err := c.oracle.Rate(ctx, url, credential)
	c.metrics.RecordOracleRequest(err == nil, time.Since(start))

	decision := Decision{Threshold: c.threshold}
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("rating failed, rejecting")
		decision.Reason = "rating unavailable"
		c.metrics.RecordAdmission(false, 0)
		return decision
	}

	decision.Score = Score(rating)
	decision.Accepted = decision.Score >= c.threshold
	if !decision.Accepted {
		decision.Reason = "net score below threshold"
	}

	c.metrics.RecordAdmission(decision.Accepted, decision.Score)
	c.log.Info().
		Str("url", url).
		Float64("score", decision.Score).
		Float64("threshold", c.threshold).
		Bool("accepted", decision.Accepted).
		Msg("screened")
	return decision
}

// Score extracts the net score of r, mapping non-finite values to 0.
func Score(r oracle.Rating) float64 {
	if math.IsNaN(r.NetScore) || math.IsInf(r.NetScore, 0) {
		return 0
	}
	return r.NetScore
}
