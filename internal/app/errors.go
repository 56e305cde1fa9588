package app

import (
	"errors"
	"fmt"
	"net/http"

	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/store"
)

const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeAccessDenied         = "ACCESS_DENIED"
	CodeNotFound             = "NOT_FOUND"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the client may resend the same request.
func (e *DomainError) Retryable() bool {
	return e != nil && e.Code == CodePersistenceFailed
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func accessDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeAccessDenied, message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidationFailed, message, details)
}

func persistenceFailed() *DomainError {
	return domainError(http.StatusInternalServerError, CodePersistenceFailed, "Could not save changes, please retry", nil)
}

// AsDomainError classifies any error into the client-visible taxonomy. Errors
// that are not already domain errors and are not recognized sentinels are
// treated as persistence failures.
func AsDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound("Not found")
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInactiveAccount),
		errors.Is(err, auth.ErrAuthTimeout):
		return domainError(http.StatusUnauthorized, CodeAuthenticationFailed, authMessage(err), nil)
	}
	return persistenceFailed()
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Authentication token required"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Authentication token expired"
	case errors.Is(err, auth.ErrInactiveAccount):
		return "Account is deactivated"
	case errors.Is(err, auth.ErrAuthTimeout):
		return "Authentication timed out"
	default:
		return "Invalid authentication token"
	}
}

// ValidationError reports a malformed request that is not tied to a field.
func ValidationError(message string) *DomainError {
	return validationFailed(message, nil)
}

func AccessDeniedError(message string) *DomainError {
	return accessDenied(message)
}

func AuthenticationError(message string) *DomainError {
	return domainError(http.StatusUnauthorized, CodeAuthenticationFailed, message, nil)
}

// InternalError is reported for unexpected failures such as a recovered panic.
// It shares the retryable persistence code.
func InternalError() *DomainError {
	return domainError(http.StatusInternalServerError, CodePersistenceFailed, "Internal error, please retry", nil)
}
