// Package errors defines the relay's error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeConnectivity    Code = "CONNECTIVITY_ERROR"
	CodeLedgerRejection Code = "LEDGER_REJECTION"
	CodeDataShape       Code = "DATA_SHAPE_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeRateLimited     Code = "RATE_LIMITED"
)

// ServiceError is an error carrying a code and the HTTP status it maps to.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair to the error and returns it.
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// =============================================================================
// Constructors
// =============================================================================

// Validation reports bad caller input. It is always raised before any
// ledger round trip.
func Validation(message string) *ServiceError {
	return &ServiceError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...interface{}) *ServiceError {
	return Validation(fmt.Sprintf(format, args...))
}

// InvalidAmount reports a non-positive transfer amount.
func InvalidAmount(amount int64) *ServiceError {
	return Validation("transfer amount must be greater than 0").WithDetail("amount", amount)
}

// InvalidInput reports structurally unusable input such as an empty batch.
func InvalidInput(message string) *ServiceError {
	return Validation(message)
}

// Connectivity wraps a session or network failure.
func Connectivity(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeConnectivity,
		Message:    op + " failed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// LedgerRejection wraps a transaction the network refused.
func LedgerRejection(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeLedgerRejection,
		Message:    op + " rejected by ledger",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// DataShape wraps a response that could not be interpreted.
func DataShape(what string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeDataShape,
		Message:    "unexpected " + what + " shape",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NotFound reports a missing resource.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit float64, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded: %g requests per %s", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// =============================================================================
// Inspection
// =============================================================================

// AsServiceError extracts a ServiceError from the chain, if any.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func hasCode(err error, code Code) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}

func IsValidation(err error) bool      { return hasCode(err, CodeValidation) }
func IsConnectivity(err error) bool    { return hasCode(err, CodeConnectivity) }
func IsLedgerRejection(err error) bool { return hasCode(err, CodeLedgerRejection) }
func IsDataShape(err error) bool       { return hasCode(err, CodeDataShape) }
func IsNotFound(err error) bool        { return hasCode(err, CodeNotFound) }

// HTTPStatus returns the status code an error should be served with.
// Errors outside the taxonomy map to 500.
func HTTPStatus(err error) int {
	if se, ok := AsServiceError(err); ok && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
