package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
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

// Is matches two AppErrors by code so errors.Is works against the constructors below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the error code of err, or "" when err is not an AppError.
func Code(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the failed operation was not applied and may be retried.
func IsRetryable(err error) bool {
	return Code(err) == CodeStoreUnavailable
}

const (
	CodeInsufficientFunds = "ESC_001"
	CodeNotFound          = "ESC_002"
	CodeInvalidTransition = "ESC_003"
	CodeUnauthorized      = "ESC_004"
	CodeValidation        = "ESC_005"
	CodeAlreadyExists     = "ESC_006"

	CodeInvalidToken      = "AUTH_003"
	CodeRateLimitExceeded = "RATE_001"
	CodePayloadTooLarge   = "REQ_001"

	CodeInternal         = "SYS_001"
	CodeStoreUnavailable = "SYS_002"
)

// ---- Escrow Business Logic (ESC) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient time-credit balance", http.StatusPaymentRequired)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ErrRecordNotFound is ErrNotFound for escrow records.
func ErrRecordNotFound() *AppError {
	return ErrNotFound("Escrow record")
}

func ErrInvalidTransition(message string) *AppError {
	return New(CodeInvalidTransition, message, http.StatusConflict)
}

func ErrUnauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusForbidden)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Amount must be greater than zero", http.StatusBadRequest)
}

// Validation returns an ESC_005 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrAlreadyExists(entity string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", entity), http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Request (REQ) ----

func ErrPayloadTooLarge() *AppError {
	return New(CodePayloadTooLarge, "Request body too large", http.StatusRequestEntityTooLarge)
}

// ---- System & Infrastructure (SYS) ----

// ErrStoreUnavailable reports that the atomic unit could not be committed. Nothing was applied.
func ErrStoreUnavailable(err error) *AppError {
	return Wrap(CodeStoreUnavailable, "Store unavailable, operation not applied", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
