package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible error identifier.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeIdempotency     Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit       Code = "RATE_LIMITED"
	CodeTransferNetwork Code = "TRANSFER_NETWORK_ERROR"
	CodeTransferTimeout Code = "TRANSFER_TIMEOUT"
	CodeTransferDecline Code = "TRANSFER_DECLINED"
	CodePersistence     Code = "PERSISTENCE_ERROR"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeDependency      Code = "DEPENDENCY_ERROR"
)

// Metadata is the public contract of a Code. ExposeMessage lets the error's own
// message replace PublicMessage in the response body.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	ExposeMessage  bool
	DetailsAllowed bool
}

// clientError exposes its message; serverError never does.
func clientError(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, ExposeMessage: true, DetailsAllowed: details}
}

func serverError(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   clientError(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized: clientError(http.StatusUnauthorized, "authentication required", false),
	CodeNotFound:     clientError(http.StatusNotFound, "resource not found", false),
	CodeConflict:     clientError(http.StatusConflict, "conflict detected", false),
	CodeInvalidState: clientError(http.StatusBadRequest, "payment is not in a valid state for this operation", true),
	CodeIdempotency:  clientError(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:    {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "too many requests"},

	// Transfer failures are recorded on the payment as FAILED before they reach the caller.
	CodeTransferNetwork: clientError(http.StatusBadRequest, "payment could not be processed", true),
	CodeTransferTimeout: clientError(http.StatusBadRequest, "payment status could not be confirmed in time", true),
	CodeTransferDecline: clientError(http.StatusBadRequest, "payment was declined", true),

	CodePersistence: serverError(http.StatusInternalServerError, "failed to persist payment", true),
	CodeInternal:    serverError(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:  serverError(http.StatusServiceUnavailable, "dependency unavailable", true),
}

// IsTransferFailure reports whether code describes a failed transfer attempt.
func IsTransferFailure(code Code) bool {
	return code == CodeTransferNetwork || code == CodeTransferTimeout || code == CodeTransferDecline
}

// MetadataFor falls back to INTERNAL_ERROR for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. The zero *Error reads as INTERNAL_ERROR.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost *Error in err's chain. Untyped
// errors are INTERNAL_ERROR.
func CodeOf(err error) Code {
	return As(err).Code()
}
