package dto

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected int
	}{
		{"not found", ErrCodeNotFound, http.StatusNotFound},
		{"already exists", ErrCodeAlreadyExists, http.StatusConflict},
		{"concurrency conflict", ErrCodeConcurrencyConflict, http.StatusConflict},
		{"invalid input", ErrCodeInvalidInput, http.StatusBadRequest},
		{"invalid state", ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{"precondition failed", ErrCodePreconditionFailed, http.StatusPreconditionFailed},
		{"transient", ErrCodeTransient, http.StatusServiceUnavailable},
		{"security violation", ErrCodeSecurityViolation, http.StatusBadRequest},
		{"forbidden", ErrCodeForbidden, http.StatusForbidden},
		{"internal", ErrCodeInternal, http.StatusInternalServerError},
		{"unmapped code falls back to 500", "SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected string
	}{
		{"tenant not found", "TENANT_NOT_FOUND", ErrCodeNotFound},
		{"duplicate invoice", "INVOICE_ALREADY_EXISTS", ErrCodeAlreadyExists},
		{"non-pending invoice", "INVOICE_NOT_PENDING", ErrCodeInvalidState},
		{"no overage", "NO_OVERAGE", ErrCodePreconditionFailed},
		{"resource disabled", "RESOURCE_NOT_ACTIVE", ErrCodePreconditionFailed},
		{"suspended tenant", "TENANT_NOT_ACTIVE", ErrCodeForbidden},
		{"optimistic lock", "CONCURRENCY_CONFLICT", ErrCodeConcurrencyConflict},
		{"webhook signature", "SECURITY_VIOLATION", ErrCodeSecurityViolation},
		{"field validation collapses", "INVALID_PERIOD", ErrCodeInvalidInput},
		{"another field validation", "INVALID_QUANTITY", ErrCodeInvalidInput},
		{"already normalized", ErrCodeNotFound, ErrCodeNotFound},
		{"unknown passes through", "WILDLY_UNKNOWN", "WILDLY_UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.code))
		})
	}
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]string{"a", "b"}, 41, 2, 20)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Meta)
	assert.Equal(t, int64(41), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}
