// Package apperror defines the error taxonomy shared by the services and the
// HTTP layer.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindStateConflict       Kind = "state_conflict"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindProvider            Kind = "provider"
	KindSignature           Kind = "signature"
)

// Error is a classified failure. Two errors are equal under errors.Is when
// Kind and Code match, so sentinels below can be compared against wrapped
// instances that carry a different message or cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Retryable reports false for every classified error; they describe state or
// input problems that a redelivery would not fix.
func (e *Error) Retryable() bool { return false }

// WithMessage returns a copy carrying a different user-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

func Provider(code, message string, cause error) *Error {
	return &Error{Kind: KindProvider, Code: code, Message: message, Err: cause}
}

var (
	ErrInvalidInput = New(KindValidation, "invalid_input", "invalid input")

	ErrUnsupportedProvider = New(KindValidation, "unsupported_provider", "Unsupported provider type")
	ErrMissingMessageTag   = New(KindValidation, "missing_message_tag", "Missing message_tag")

	ErrUserNotFound     = New(KindNotFound, "user_not_found", "user not found")
	ErrAppNotFound      = New(KindNotFound, "app_not_found", "app not found")
	ErrProviderNotFound = New(KindNotFound, "provider_not_found", "provider not found")
	ErrConfigNotFound   = New(KindNotFound, "config_not_found", "sending configuration not found")
	ErrNoMatchingLog    = New(KindNotFound, "no_matching_log", "No matching log")

	ErrNoActiveConfig               = New(KindStateConflict, "no_active_config", "No active sending configuration found for this app")
	ErrCredentialsAlreadyConfigured = New(KindStateConflict, "credentials_already_configured", "Credentials are already configured for this app")
	ErrProvisioningInProgress       = New(KindStateConflict, "provisioning_in_progress", "Provisioning is already in progress for this app")
	ErrIncompleteCredentials        = New(KindStateConflict, "incomplete_credentials", "Stored SMTP credentials are incomplete")

	ErrInsufficientCredits = New(KindInsufficientCredits, "insufficient_credits", "Insufficient credits")

	ErrProvisioningFailed = New(KindProvider, "provisioning_failed", "provisioning failed")
	ErrSendFailed         = New(KindProvider, "send_failed", "failed to send email")

	ErrInvalidSignature = New(KindSignature, "invalid_signature", "Invalid signature")
)

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Message returns the user-facing message of a classified error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps an error to the status code used by the API handlers.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindProvider:
		return http.StatusBadGateway
	case KindSignature:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
