// Package errors provides the error taxonomy shared by every pipeline component.
// Each component raises its own coded value rather than a generic failure so callers
// can tell a rejected input from a failed upload or a reverted transaction.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the VidVerse pipeline.
type ErrorCode string

const (
	// Pipeline taxonomy
	VV_VALIDATION         ErrorCode = "VV_VALIDATION"         // Caller input violates a precondition; never retried
	VV_STORE_FAILURE      ErrorCode = "VV_STORE_FAILURE"      // Content store batch or JSON upload failed
	VV_TX_SUBMISSION      ErrorCode = "VV_TX_SUBMISSION"      // Ledger rejected the transaction before inclusion
	VV_TX_REVERT          ErrorCode = "VV_TX_REVERT"          // Transaction was included but reverted
	VV_MARKET_UNAVAILABLE ErrorCode = "VV_MARKET_UNAVAILABLE" // Market data lookup failed; degrades the aggregate only

	// Request errors
	VV_BAD_REQUEST ErrorCode = "VV_BAD_REQUEST" // Malformed request
	VV_AUTHN       ErrorCode = "VV_AUTHN"       // Authentication failed
	VV_AUTHZ       ErrorCode = "VV_AUTHZ"       // Authorization failed
	VV_NOT_FOUND   ErrorCode = "VV_NOT_FOUND"   // Resource not found
	VV_CONFLICT    ErrorCode = "VV_CONFLICT"    // Resource conflict

	// Server errors
	VV_INTERNAL    ErrorCode = "VV_INTERNAL"    // Internal error
	VV_UNAVAILABLE ErrorCode = "VV_UNAVAILABLE" // Dependency unavailable
)

// Error represents a coded pipeline error.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	Stage         string      `json:"stage,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`

	cause error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Wrap creates a coded error that keeps cause reachable through errors.Is/As.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := New(code, message, "")
	e.cause = cause
	return e
}

// Validation reports a caller input that violates a precondition.
func Validation(format string, args ...interface{}) *Error {
	return New(VV_VALIDATION, fmt.Sprintf(format, args...), "")
}

// StoreFailure reports a failed content store upload.
func StoreFailure(message string, cause error) *Error {
	return Wrap(VV_STORE_FAILURE, message, cause)
}

// TxSubmission reports a transaction rejected before inclusion.
func TxSubmission(message string, cause error) *Error {
	return Wrap(VV_TX_SUBMISSION, message, cause)
}

// TxRevert reports a transaction that was included but reverted.
func TxRevert(reason string) *Error {
	return New(VV_TX_REVERT, reason, "")
}

// MarketUnavailable reports a failed market data lookup.
func MarketUnavailable(message string, cause error) *Error {
	return Wrap(VV_MARKET_UNAVAILABLE, message, cause)
}

// NotFound reports a missing resource.
func NotFound(format string, args ...interface{}) *Error {
	return New(VV_NOT_FOUND, fmt.Sprintf(format, args...), "")
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s [stage %s]", msg, e.Stage)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithStage returns err tagged with the stage at which it occurred.
// Uncoded errors are wrapped as VV_INTERNAL. An existing stage is kept.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if !stderrors.As(err, &coded) {
		coded = Wrap(VV_INTERNAL, "unexpected failure", err)
	} else {
		cp := *coded
		coded = &cp
	}
	if coded.Stage == "" {
		coded.Stage = stage
	}
	return coded
}

// CodeOf returns the code carried by err, or VV_INTERNAL for uncoded errors.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return VV_INTERNAL
}

// StageOf returns the stage tag carried by err, if any.
func StageOf(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Stage
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// As converts any error into a coded one suitable for a response body.
func As(err error, correlationID string) *Error {
	var coded *Error
	if stderrors.As(err, &coded) {
		cp := *coded
		cp.CorrelationID = correlationID
		return &cp
	}
	return New(VV_INTERNAL, "internal error", correlationID)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case VV_VALIDATION, VV_BAD_REQUEST:
		return http.StatusBadRequest
	case VV_AUTHN:
		return http.StatusUnauthorized
	case VV_AUTHZ:
		return http.StatusForbidden
	case VV_NOT_FOUND:
		return http.StatusNotFound
	case VV_CONFLICT, VV_TX_REVERT:
		return http.StatusConflict
	case VV_STORE_FAILURE, VV_TX_SUBMISSION:
		return http.StatusBadGateway
	case VV_UNAVAILABLE, VV_MARKET_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
