package api

import (
	"errors"
	"net/http"
	"strings"

	"mlreg/internal/artifacts"
	"mlreg/internal/auth"
	"mlreg/internal/registry"
)

const (
	msgAuthFailed         = "Authentication failed due to invalid or missing AuthenticationToken."
	msgForbidden          = "You do not have permission to perform this action."
	msgResetForbidden     = "You do not have permission to reset the registry."
	msgBadAuthRequest     = "Missing field(s) in the AuthenticationRequest or it is formed improperly."
	msgInvalidCredentials = "The user or password is invalid."
	msgAlreadyExists      = "Artifact exists already."
	msgDisqualified       = "Artifact not registered due to disqualified rating."
	msgNotFound           = "Artifact does not exist."
	msgInternal           = "Internal server error"
	msgMissingToken       = "missing authentication token"
	msgRatingFailed       = "failed to retrieve rating"
)

// statusFor maps a core error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthFailed):
		return http.StatusForbidden, msgAuthFailed
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusUnauthorized, msgForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidCredentials
	case registry.ErrValidation.Has(err):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, artifacts.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, artifacts.ErrAlreadyExists):
		return http.StatusConflict, msgAlreadyExists
	case errors.Is(err, registry.ErrDisqualified):
		return http.StatusFailedDependency, msgDisqualified
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "validation: ")
}

func (a *API) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	respondError(w, status, msg)
}
