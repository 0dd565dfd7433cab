// Package domainerrors provides coded errors for the provisioning domain.
// Services wrap infrastructure failures with a Code so transport layers can
// translate them to HTTP statuses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInvalidState Code = "invalid_state"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"

	// Provisioning-specific codes. These map 1:1 onto the failure modes of
	// the vendor workflow and are part of the admin API contract.
	CodeInsufficientFunds   Code = "insufficient_funds"
	CodeVendorOrderRejected Code = "vendor_order_rejected"
	CodeProvisioningTimeout Code = "provisioning_timeout"
	CodeVendorTransport     Code = "vendor_transport_error"
)

// Error is a coded domain error. Message is safe to surface to API callers;
// the wrapped cause is for logs only.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for readability at call sites that check
// a single expected code.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// GetCode returns the code carried by err, or CodeInternal when err carries
// none.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status used by the JSON error
// envelope.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState:
		return http.StatusConflict
	case CodeTimeout, CodeProvisioningTimeout:
		return http.StatusGatewayTimeout
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeVendorOrderRejected:
		return http.StatusBadGateway
	case CodeVendorTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
