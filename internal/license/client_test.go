package license

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "aigem/internal/errors"
	"aigem/internal/shared/testutil"
	api "aigem/pkg/contracts/api/v1"
)

func TestClientActivate(t *testing.T) {
	server := testutil.NewMockLicenseServer(t)
	server.OnActivate(func(req api.ActivateRequest) (int, interface{}) {
		return http.StatusOK, api.ActivateResponse{ActivationKey: "key-for-" + req.LicenseKey, Tier: "PREMIUM"}
	})

	client := NewClient(WithBaseURL(server.URL + "/"))
	resp, err := client.Activate(context.Background(), api.ActivateRequest{
		LicenseKey:          testutil.TestLicenseKey,
		HardwareFingerprint: "digest",
		DeviceInfo:          api.DeviceInfo{OS: "Linux", CPU: "cpu"},
	})
	require.NoError(t, err)

	assert.Equal(t, "key-for-"+testutil.TestLicenseKey, resp.ActivationKey)
	assert.Equal(t, "PREMIUM", resp.Tier)

	reqs := server.Activations()
	require.Len(t, reqs, 1)
	assert.Equal(t, "digest", reqs[0].HardwareFingerprint)
	assert.Equal(t, api.DeviceInfo{OS: "Linux", CPU: "cpu"}, reqs[0].DeviceInfo)
}

func TestClientActivateRejected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        interface{}
		wantMessage string
	}{
		{"server message", http.StatusForbidden, api.ErrorResponse{Error: "License already activated on another device"}, "License already activated on another device"},
		{"no message", http.StatusInternalServerError, map[string]string{}, "Activation failed"},
		{"non json", http.StatusBadGateway, "upstream down", "Activation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewMockLicenseServer(t)
			server.OnActivate(func(api.ActivateRequest) (int, interface{}) { return tt.status, tt.body })

			_, err := NewClient(WithBaseURL(server.URL)).Activate(context.Background(), api.ActivateRequest{LicenseKey: "k"})

			var rejection *licenseErrors.RejectionError
			require.True(t, errors.As(err, &rejection))
			assert.Equal(t, tt.status, rejection.StatusCode)
			assert.Equal(t, tt.wantMessage, rejection.Message)
			assert.ErrorIs(t, err, licenseErrors.ErrActivationFailed)
		})
	}
}

func TestClientActivateMalformedSuccess(t *testing.T) {
	server := testutil.NewMockLicenseServer(t)
	server.OnActivate(func(api.ActivateRequest) (int, interface{}) {
		return http.StatusOK, map[string]string{"tier": "PRO"}
	})

	_, err := NewClient(WithBaseURL(server.URL)).Activate(context.Background(), api.ActivateRequest{LicenseKey: "k"})
	assert.ErrorIs(t, err, licenseErrors.ErrActivationFailed)
}

func TestClientNetworkError(t *testing.T) {
	server := testutil.NewMockLicenseServer(t)
	url := server.URL
	server.Close()

	_, err := NewClient(WithBaseURL(url)).Activate(context.Background(), api.ActivateRequest{LicenseKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, licenseErrors.ErrNetworkError)
	assert.Contains(t, err.Error(), "Network error: ")
}

func TestClientHonoursContextDeadline(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(WithBaseURL(slow.URL)).Heartbeat(ctx, api.HeartbeatRequest{ActivationKey: "k"})
	assert.ErrorIs(t, err, licenseErrors.ErrNetworkError)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientHeartbeat(t *testing.T) {
	server := testutil.NewMockLicenseServer(t)
	client := NewClient(WithBaseURL(server.URL), WithUserAgent("test-agent"))

	resp, err := client.Heartbeat(context.Background(), api.HeartbeatRequest{ActivationKey: "stored"})
	require.NoError(t, err)
	assert.Equal(t, "stored", resp.ActivationKey)

	server.OnHeartbeat(func(api.HeartbeatRequest) (int, interface{}) {
		return http.StatusUnauthorized, api.ErrorResponse{Error: "Activation revoked"}
	})
	_, err = client.Heartbeat(context.Background(), api.HeartbeatRequest{ActivationKey: "stored"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Activation revoked")
}

func TestClientUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"activation_key":"k"}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL), WithUserAgent("aigem-test/1.0")).
		Heartbeat(context.Background(), api.HeartbeatRequest{ActivationKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "aigem-test/1.0", got)
}
