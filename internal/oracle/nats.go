package oracle

import (
	"context"
	"errors"
	"time"

	"mlreg/pkg/bus"
)

// RateRequest is the bus payload sent to rating workers.
type RateRequest struct {
	URL        string `json:"url"`
	Credential string `json:"credential,omitempty"`
	// Deadline is when the requester stops waiting. Workers skip requests
	// that arrive after it.
	Deadline time.Time `json:"deadline,omitzero"`
}

// RateResponse is the reply from a rating worker. Exactly one field is set.
type RateResponse struct {
	Rating *Rating `json:"rating,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// NATSOracle forwards rating requests to workers listening on a subject.
type NATSOracle struct {
	bus     *bus.Bus
	subject string
}

// NewNATSOracle returns an oracle that requests ratings on subject.
func NewNATSOracle(b *bus.Bus, subject string) (*NATSOracle, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	return &NATSOracle{bus: b, subject: subject}, nil
}

func (o *NATSOracle) Rate(ctx context.Context, url, credential string) (Rating, error) {
	req := RateRequest{URL: url, Credential: credential}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline.UTC()
	}

	var resp RateResponse
	if err := o.bus.Request(ctx, o.subject, req, &resp); err != nil {
		return Rating{}, Error.Wrap(err)
	}
	if resp.Error != "" {
		return Rating{}, Error.New("worker: %s", resp.Error)
	}
	if resp.Rating == nil {
		return Rating{}, Error.Wrap(ErrNoRating)
	}
	return *resp.Rating, nil
}

// Serve answers one bus request with o. It is the worker side of NATSOracle.
func Serve(ctx context.Context, o Oracle, req RateRequest) RateResponse {
	if req.URL == "" {
		return RateResponse{Error: "url is required"}
	}
	rating, err := o.Rate(ctx, req.URL, req.Credential)
	if err != nil {
		return RateResponse{Error: err.Error()}
	}
	return RateResponse{Rating: &rating}
}
