package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorBadGateway   ErrorCode = "bad_gateway"
	// ErrorUnavailable marks failures the caller may retry with the same input.
	ErrorUnavailable ErrorCode = "unavailable"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewBadGatewayError(msg string, cause error) error {
	return &ServiceError{Code: ErrorBadGateway, Message: msg, Err: cause}
}

func NewUnavailableError(msg string, cause error) error {
	return &ServiceError{Code: ErrorUnavailable, Message: msg, Err: cause}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether err may succeed when the same request is sent again.
func IsRetryable(err error) bool {
	se, ok := AsServiceError(err)
	if !ok {
		return false
	}
	return se.Code == ErrorUnavailable || se.Code == ErrorBadGateway
}
