package registry

import (
	"errors"

	"mlreg/internal/artifacts"
)

// Stage is the furthest point a creation request reached.
type Stage string

// Creation stages.
const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StageScreened  Stage = "screened"
	StagePersisted Stage = "persisted"
	StageRejected  Stage = "rejected"
)

// Rejection reasons reported for StageRejected.
const (
	ReasonValidation    = "validation_error"
	ReasonAlreadyExists = "already_exists"
	ReasonDisqualified  = "disqualified"
	ReasonInternal      = "internal"
)

// RejectReason classifies a Create error.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case ErrValidation.Has(err), errors.Is(err, artifacts.ErrInvalidURL):
		return ReasonValidation
	case errors.Is(err, artifacts.ErrAlreadyExists):
		return ReasonAlreadyExists
	case errors.Is(err, ErrDisqualified):
		return ReasonDisqualified
	default:
		return ReasonInternal
	}
}

// creation tracks one request through its stages.
type creation struct {
	stage Stage
}

func (c *creation) advance(s Stage) { c.stage = s }

// finish returns the terminal stage for err, the stage reached before the
// failure, and the rejection reason.
func (c *creation) finish(err error) (Stage, Stage, string) {
	if err == nil {
		return StagePersisted, c.stage, ""
	}
	return StageRejected, c.stage, RejectReason(err)
}
