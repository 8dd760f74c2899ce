package app

import "fmt"

// DomainError is a typed failure from the forum service layer. Status is
// the HTTP status the handler should emit, Code a stable machine-readable
// identifier (VALIDATION_ERROR, FORBIDDEN, THREAD_LOCKED, ...).
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
