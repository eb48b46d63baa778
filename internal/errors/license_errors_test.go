package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectionError(t *testing.T) {
	err := NewRejectionError(http.StatusForbidden, "License already activated on another device")

	assert.Equal(t, "License already activated on another device", err.Error())
	assert.True(t, errors.Is(err, ErrActivationFailed))

	wrapped := fmt.Errorf("activate: %w", err)
	var rejection *RejectionError
	require.True(t, errors.As(wrapped, &rejection))
	assert.Equal(t, http.StatusForbidden, rejection.StatusCode)

	assert.Equal(t, "Activation failed", NewRejectionError(http.StatusBadRequest, "").Message)
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewNetworkError(cause)

	assert.Equal(t, "Network error: dial tcp: connection refused", err.Error())
	assert.True(t, errors.Is(err, ErrNetworkError))
	assert.True(t, errors.Is(fmt.Errorf("activate: %w", err), cause))
	assert.Equal(t, http.StatusServiceUnavailable, MapLicenseError(err, "t").Status)
}

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{"rejection", NewRejectionError(http.StatusNotFound, "Invalid license key"), http.StatusUnprocessableEntity, TypeActivationRejected, "ACTIVATION_REJECTED"},
		{"invalid key", fmt.Errorf("activate: %w", ErrInvalidLicenseKey), http.StatusBadRequest, TypeInvalidLicenseKey, "INVALID_LICENSE_KEY"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, TypeRateLimit, "RATE_LIMITED"},
		{"network", fmt.Errorf("%w: connection refused", ErrNetworkError), http.StatusServiceUnavailable, TypeNetwork, "NETWORK_ERROR"},
		{"not activated", ErrLicenseNotActivated, http.StatusPreconditionRequired, TypeLicenseNotActivated, "LICENSE_NOT_ACTIVATED"},
		{"unknown feature", fmt.Errorf("%w: hologram", ErrUnknownFeature), http.StatusNotFound, TypeNotFound, "UNKNOWN_FEATURE"},
		{"activation failed", ErrActivationFailed, http.StatusUnprocessableEntity, TypeActivationRejected, "ACTIVATION_FAILED"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, TypeInternal, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := MapLicenseError(tt.err, "trace-1")

			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.wantCode, problem.Extensions["error_code"])
			assert.Equal(t, "trace-1", problem.Extensions["trace_id"])
			assert.Equal(t, "/api/license#trace-trace-1", problem.Instance)
		})
	}
}

func TestMapLicenseErrorKeepsServerMessage(t *testing.T) {
	problem := MapLicenseError(NewRejectionError(http.StatusConflict, "Device limit reached"), "t")

	assert.Equal(t, "Device limit reached", problem.Detail)
	assert.Equal(t, http.StatusConflict, problem.Extensions["server_status"])
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	problem := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad", "", "").
		WithExtension("error_code", "X").
		WithExtension("status", 999)

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "X", out["error_code"])
	assert.Equal(t, float64(http.StatusBadRequest), out["status"], "standard fields win over extensions")
	assert.NotContains(t, out, "detail")
	assert.NotContains(t, out, "instance")
}

func TestNewTierRequiredError(t *testing.T) {
	problem := NewTierRequiredError("FREE", "PRO", "semantic_search", "abc")

	assert.Equal(t, http.StatusPaymentRequired, problem.Status)
	assert.Equal(t, "This feature requires PRO tier or higher", problem.Detail)
	assert.Equal(t, "FREE", problem.Extensions["current_tier"])
	assert.Equal(t, "PRO", problem.Extensions["required_tier"])
	assert.Equal(t, "semantic_search", problem.Extensions["feature"])

	noFeature := NewTierRequiredError("FREE", "STARTER", "", "abc")
	assert.NotContains(t, noFeature.Extensions, "feature")
}
