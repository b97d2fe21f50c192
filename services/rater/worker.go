// Package rater serves rating requests from the bus by running the scorer.
package rater

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mlreg/internal/oracle"
)

// Server joins a queue group and answers requests. *bus.Bus satisfies it.
type Server interface {
	Serve(ctx context.Context, subj, queue string, concurrency int, fn func(ctx context.Context, data []byte) []byte) (io.Closer, error)
}

// Worker answers oracle.RateRequest messages with oracle.RateResponse replies.
type Worker struct {
	server  Server
	oracle  oracle.Oracle
	subject     string
	queue       string
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
}

// NewWorker returns a Worker.
func NewWorker(server Server, o oracle.Oracle, cfg Config, logger zerolog.Logger) (*Worker, error) {
	if server == nil {
		return nil, errors.New("server is required")
	}
	if o == nil {
		return nil, errors.New("oracle is required")
	}
	if cfg.Subject == "" {
		return nil, errors.New("subject is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		server:      server,
		oracle:      o,
		subject:     cfg.Subject,
		queue:       cfg.Queue,
		timeout:     timeout,
		concurrency: concurrency,
		log:         logger.With().Str("component", "rater").Logger(),
	}, nil
}

// Run serves until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.server.Serve(ctx, w.subject, w.queue, w.concurrency, w.Handle)
	if err != nil {
		return err
	}
	w.log.Info().
		Str("subject", w.subject).
		Str("queue", w.queue).
		Int("concurrency", w.concurrency).
		Msg("serving rating requests")

	<-ctx.Done()
	return sub.Close()
}

// Handle decodes one request, rates it and encodes the reply. Rating stops
// at the requester's deadline or after the worker timeout, whichever is
// sooner. Requests whose deadline has already passed are not rated.
func (w *Worker) Handle(ctx context.Context, data []byte) []byte {
	var req oracle.RateRequest
	var resp oracle.RateResponse
	start := time.Now()

	switch err := json.Unmarshal(data, &req); {
	case err != nil:
		resp = oracle.RateResponse{Error: "malformed request"}
	case !req.Deadline.IsZero() && !start.Before(req.Deadline):
		resp = oracle.RateResponse{Error: "request deadline passed"}
		w.log.Warn().Str("url", req.URL).Time("deadline", req.Deadline).Msg("skipping expired request")
	default:
		deadline := start.Add(w.timeout)
		if !req.Deadline.IsZero() && req.Deadline.Before(deadline) {
			deadline = req.Deadline
		}
		ctx, cancel := context.WithDeadline(ctx, deadline)
		resp = oracle.Serve(ctx, w.oracle, req)
		cancel()

		evt := w.log.Info()
		if resp.Error != "" {
			evt = w.log.Warn().Str("error", resp.Error)
		}
		evt.Str("url", req.URL).Dur("duration", time.Since(start)).Msg("rated")
	}

	out, err := json.Marshal(resp)
	if err != nil {
		w.log.Error().Err(err).Msg("encode rating response")
		return []byte(`{"error":"encode response"}`)
	}
	return out
}
