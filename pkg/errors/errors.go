package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so sentinel comparisons survive WithInternal copies.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	other, ok := target.(*AppError)
	return ok && other != nil && e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrNotSessionParticipant is returned when the caller is not the doctor
	// or patient bound to the session.
	ErrNotSessionParticipant = &AppError{
		Code:       "UNAUTHORIZED_PARTICIPANT",
		Message:    "Caller is not a participant of this session",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInvalidState = &AppError{
		Code:       "INVALID_STATE",
		Message:    "Operation not permitted in the current session state",
		StatusCode: http.StatusConflict,
	}

	ErrConsentRequired = &AppError{
		Code:       "CONSENT_REQUIRED",
		Message:    "Patient consent is required",
		StatusCode: http.StatusForbidden,
	}

	ErrConsentDenied = &AppError{
		Code:       "CONSENT_DENIED",
		Message:    "Patient consent was denied for this capability",
		StatusCode: http.StatusForbidden,
	}

	ErrFeatureDisabled = &AppError{
		Code:       "FEATURE_DISABLED",
		Message:    "This feature is disabled for the session",
		StatusCode: http.StatusForbidden,
	}

	ErrPreconditionFailed = &AppError{
		Code:       "PRECONDITION_FAILED",
		Message:    "A precondition for this operation is not satisfied",
		StatusCode: http.StatusPreconditionFailed,
	}

	ErrLinkExpired = &AppError{
		Code:       "LINK_EXPIRED",
		Message:    "Join link has expired",
		StatusCode: http.StatusGone,
	}

	ErrLinkMalformed = &AppError{
		Code:       "LINK_MALFORMED",
		Message:    "Join link is malformed",
		StatusCode: http.StatusBadRequest,
	}

	// ErrDecryptFailed is distinct from ErrNotFound so key-rotation bugs are
	// observable instead of reading as missing data.
	ErrDecryptFailed = &AppError{
		Code:       "DECRYPT_FAILED",
		Message:    "Stored payload could not be decrypted",
		StatusCode: http.StatusInternalServerError,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
