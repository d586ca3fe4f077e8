package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeStoreWriteFailed       = "STORE_WRITE_FAILED"
	ErrCodeStoreReadFailed        = "STORE_READ_FAILED"
	ErrCodeStoreNotInitialized    = "STORE_NOT_INITIALIZED"
	ErrCodePermissionDenied       = "PERMISSION_DENIED"
	ErrCodeDialogCancelled        = "DIALOG_CANCELLED"
	ErrCodeDialogProcessFailed    = "DIALOG_PROCESS_FAILED"
	ErrCodeDialogBinaryNotFound   = "DIALOG_BINARY_NOT_FOUND"
	ErrCodeDialogMalformedOutput  = "DIALOG_MALFORMED_OUTPUT"
	ErrCodeElicitationDeclined    = "ELICITATION_DECLINED"
	ErrCodeElicitationUnavailable = "ELICITATION_UNAVAILABLE"
	ErrCodeVault                  = "VAULT_ERROR"
	ErrCodeIsolation              = "ISOLATION_ERROR"
)

// SecretsError is the structured error type for all secret operations.
// Messages carry secret names only, never values.
type SecretsError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Secret  string         `json:"secret,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SecretsError) Error() string {
	if e.Secret != "" {
		return fmt.Sprintf("[%s] secret %s: %s", e.Code, e.Secret, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SecretsError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SecretsError.
func NewError(code, message string) *SecretsError {
	return &SecretsError{Code: code, Message: message}
}

// NewErrorf creates a new SecretsError with a formatted message.
func NewErrorf(code, format string, args ...any) *SecretsError {
	return &SecretsError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithSecret attaches the secret name the error refers to.
func (e *SecretsError) WithSecret(name string) *SecretsError {
	e.Secret = name
	return e
}

// WithCause attaches an underlying cause.
func (e *SecretsError) WithCause(err error) *SecretsError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SecretsError) WithDetails(details map[string]any) *SecretsError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first SecretsError in err's chain, or "".
func CodeOf(err error) string {
	var se *SecretsError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsDialogFailure reports whether err is one of the fatal dialog kinds:
// missing binary, abnormal exit, or malformed output.
func IsDialogFailure(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDialogProcessFailed, ErrCodeDialogBinaryNotFound, ErrCodeDialogMalformedOutput:
		return true
	}
	return false
}
