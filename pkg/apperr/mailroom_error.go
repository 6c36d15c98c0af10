package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeConflict      = "CONFLICT"

	// Pipeline errors
	CodePermanentJob          = "PERMANENT_JOB"
	CodeBlobUnavailable       = "BLOB_UNAVAILABLE"
	CodeCredentialUnavailable = "CREDENTIAL_UNAVAILABLE"
	CodeHistoryExpired        = "HISTORY_EXPIRED"
	CodeProviderError         = "PROVIDER_ERROR"

	// External errors
	CodeOAuthFailed   = "OAUTH_FAILED"
	CodeDatabaseError = "DATABASE_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so errors.Is works across wrapped chains.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation errors
func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// PermanentJob marks a job failure that must not be retried: the payload
// is malformed or references state that can never become valid.
func PermanentJob(message string) *AppError {
	return &AppError{
		Code:    CodePermanentJob,
		Message: message,
	}
}

func PermanentJobf(format string, args ...any) *AppError {
	return PermanentJob(fmt.Sprintf(format, args...))
}

// BlobUnavailable signals the blob backend errored or the key is absent.
func BlobUnavailable(key string, err error) *AppError {
	return &AppError{
		Code:    CodeBlobUnavailable,
		Message: fmt.Sprintf("blob unavailable: %s", key),
		Details: map[string]any{"key": key},
		Err:     err,
	}
}

// CredentialUnavailable signals a refresh token that cannot be decrypted
// or is missing; sync surfaces degraded connectivity instead of aborting.
func CredentialUnavailable(message string) *AppError {
	return &AppError{
		Code:    CodeCredentialUnavailable,
		Message: message,
	}
}

// HistoryExpired maps the provider's 404 on history.list. It is a
// recovery signal, not a failure.
func HistoryExpired(message string) *AppError {
	return &AppError{
		Code:    CodeHistoryExpired,
		Message: message,
	}
}

// ProviderError wraps a non-recoverable provider API response.
func ProviderError(status int, message string) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: message,
		Details: map[string]any{"status": status},
	}
}

// ProviderStatus extracts the HTTP status recorded on a provider error, 0 when absent.
func ProviderStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == CodeProviderError {
		if s, ok := appErr.Details["status"].(int); ok {
			return s
		}
	}
	return 0
}

// External errors
func OAuthFailed(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeOAuthFailed,
		Message: fmt.Sprintf("OAuth failed for %s", provider),
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal error",
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
	}
}

// Common error instances
var (
	ErrNotFound              = NotFound("resource")
	ErrConflict              = Conflict("resource conflict")
	ErrInternal              = Internal("")
	ErrPermanentJob          = PermanentJob("permanent job failure")
	ErrBlobUnavailable       = New(CodeBlobUnavailable, "blob unavailable")
	ErrCredentialUnavailable = CredentialUnavailable("credential unavailable")
	ErrHistoryExpired        = HistoryExpired("history expired")
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsPermanent reports whether a job error must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentJob)
}
