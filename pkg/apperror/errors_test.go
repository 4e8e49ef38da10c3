package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("ESC_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[ESC_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("ESC_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("release: %w", ErrInvalidTransition("escrow already refunded"))

	assert.True(t, errors.Is(err, ErrInvalidTransition("")))
	assert.False(t, errors.Is(err, ErrUnauthorized("")))
}

func TestEscrowErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), "ESC_001", 402},
		{"NotFound", ErrNotFound("Account"), "ESC_002", 404},
		{"RecordNotFound", ErrRecordNotFound(), "ESC_002", 404},
		{"InvalidTransition", ErrInvalidTransition("bad"), "ESC_003", 409},
		{"Unauthorized", ErrUnauthorized("nope"), "ESC_004", 403},
		{"InvalidAmount", ErrInvalidAmount(), "ESC_005", 400},
		{"Validation", Validation("bad input"), "ESC_005", 400},
		{"AlreadyExists", ErrAlreadyExists("Account"), "ESC_006", 409},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("connection reset")

	unavailable := ErrStoreUnavailable(inner)
	assert.Equal(t, "SYS_002", unavailable.Code)
	assert.Equal(t, http.StatusServiceUnavailable, unavailable.HTTPStatus)
	assert.True(t, errors.Is(unavailable, inner))

	internal := InternalError(inner)
	assert.Equal(t, "SYS_001", internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ESC_002", Code(fmt.Errorf("wrapped: %w", ErrRecordNotFound())))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.Equal(t, "", Code(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrStoreUnavailable(errors.New("down"))))
	assert.False(t, IsRetryable(ErrInvalidTransition("terminal")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestAuthAndRateErrors(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, ErrInvalidToken().HTTPStatus)
	assert.Equal(t, "AUTH_003", ErrInvalidToken().Code)
	assert.Equal(t, http.StatusTooManyRequests, ErrRateLimitExceeded().HTTPStatus)
}

func TestPayloadTooLarge(t *testing.T) {
	err := ErrPayloadTooLarge()
	assert.Equal(t, "REQ_001", err.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, err.HTTPStatus)
}
