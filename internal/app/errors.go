package app

import (
	"fmt"
	"net/http"
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// registrationError carries the 422 status the registration contract uses
// for malformed input; every other surface reports validation at 400.
func registrationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "CONFLICT", message, nil)
}

func notFoundError() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func unauthorizedError() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}
