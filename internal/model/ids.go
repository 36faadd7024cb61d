package model

import (
	"regexp"

	"sendgate/internal/apperror"
)

const maxIDLength = 255

var (
	userIDPattern = regexp.MustCompile(`^u_[a-zA-Z0-9-]+$`)
	appIDPattern  = regexp.MustCompile(`^app_[a-zA-Z0-9-]+$`)
)

func validateID(kind, id string, pattern *regexp.Regexp) error {
	if id == "" {
		return apperror.ErrInvalidInput.WithMessage("%s id is required", kind)
	}
	if len(id) > maxIDLength {
		return apperror.ErrInvalidInput.WithMessage("%s id exceeds %d characters", kind, maxIDLength)
	}
	if !pattern.MatchString(id) {
		return apperror.ErrInvalidInput.WithMessage("invalid %s id %q", kind, id)
	}
	return nil
}

// ValidateUserID checks the u_ prefixed identifier format.
func ValidateUserID(id string) error { return validateID("user", id, userIDPattern) }

// ValidateAppID checks the app_ prefixed identifier format.
func ValidateAppID(id string) error { return validateID("app", id, appIDPattern) }
