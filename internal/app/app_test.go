package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigem/internal/config"
	"aigem/internal/license"
	"aigem/internal/shared/testutil"
	ws "aigem/internal/websocket"
	apiv1 "aigem/pkg/contracts/api/v1"
)

type appFixture struct {
	app      *Application
	platform *testutil.FakePlatform
	server   *testutil.MockLicenseServer
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = config.Duration{Duration: 2 * time.Second}

	f := &appFixture{
		platform: testutil.NewFakePlatform(t.TempDir()),
		server:   testutil.NewMockLicenseServer(t),
	}

	app, err := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPlatform(f.platform),
		WithLicenseServer(license.NewClient(license.WithBaseURL(f.server.URL))))
	require.NoError(t, err)
	f.app = app

	digest := f.platform.Fingerprint().Digest
	f.server.OnActivate(func(apiv1.ActivateRequest) (int, interface{}) {
		now := time.Now()
		return http.StatusOK, apiv1.ActivateResponse{
			ActivationKey: testutil.SignedToken(t, testutil.TokenClaims{
				Tier: "PREMIUM", HWID: digest, Issued: now, LastHeartbeat: now,
			}),
			Tier: "PREMIUM",
		}
	})
	return f
}

func TestNewWiresComponents(t *testing.T) {
	f := newAppFixture(t)

	assert.NotNil(t, f.app.Validator)
	assert.NotNil(t, f.app.Scheduler)
	assert.NotNil(t, f.app.Hub)
	assert.Equal(t, f.platform.Path, f.app.Store.Path())
	assert.Equal(t, "127.0.0.1:0", f.app.Server.Addr)
}

func TestRouterServesAPI(t *testing.T) {
	f := newAppFixture(t)
	srv := httptest.NewServer(f.app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestActivationIsPushedToWebSocket(t *testing.T) {
	f := newAppFixture(t)
	f.app.Hub.Start()
	defer f.app.Hub.Stop()

	srv := httptest.NewServer(f.app.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	assert.Equal(t, ws.TypeConnection, read().Type)
	require.Eventually(t, func() bool { return f.app.Hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/license/activate", "application/json",
		strings.NewReader(`{"license_key":"`+testutil.TestLicenseKey+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := read()
	assert.Equal(t, ws.TypeLicenseStatus, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "ACTIVE", data["state"])
	assert.Equal(t, "PREMIUM", data["tier"])

	gated, err := http.Get(srv.URL + "/api/license/features/cloud_ai")
	require.NoError(t, err)
	gated.Body.Close()
	assert.Equal(t, http.StatusOK, gated.StatusCode, "gate cache is invalidated on activation")
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newAppFixture(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
