package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"aigem/pkg/contracts/domain"
)

func newTestHub(t *testing.T, metrics *HubMetrics) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(NewUpgrader(hub, 1024, 1024, time.Minute))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHubConnectionMessage(t *testing.T) {
	hub := newTestHub(t, nil)
	conn := dial(t, hub)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeConnection, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connected", data["status"])
	assert.NotEmpty(t, data["client_id"])
}

func TestHubBroadcastStatus(t *testing.T) {
	hub := newTestHub(t, nil)
	first := dial(t, hub)
	second := dial(t, hub)
	readMessage(t, first)
	readMessage(t, second)
	waitForClients(t, hub, 2)

	hub.BroadcastStatus(domain.ValidationStatus{State: domain.StateActive, Tier: domain.TierPro})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeLicenseStatus, msg.Type)
		data := msg.Data.(map[string]interface{})
		assert.Equal(t, "ACTIVE", data["state"])
		assert.Equal(t, "PRO", data["tier"])
	}
}

func TestHubReplaysLastStatus(t *testing.T) {
	hub := newTestHub(t, nil)
	hub.BroadcastStatus(domain.ValidationStatus{State: domain.StateGraceExpired, Tier: domain.TierFree, EntitledTier: domain.TierPremium})

	conn := dial(t, hub)
	assert.Equal(t, TypeConnection, readMessage(t, conn).Type)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeLicenseStatus, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "GRACE_EXPIRED", data["state"])
	assert.Equal(t, "PREMIUM", data["entitled_tier"])
}

func TestHubBroadcastJSON(t *testing.T) {
	hub := newTestHub(t, nil)
	conn := dial(t, hub)
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	hub.BroadcastJSON(context.Background(), TypeHeartbeat, map[string]string{"outcome": "refreshed"})

	msg := readMessage(t, conn)
	assert.Equal(t, TypeHeartbeat, msg.Type)
	assert.Equal(t, "refreshed", msg.Data.(map[string]interface{})["outcome"])
}

func TestHubUnregistersClosedClients(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := NewHubMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	hub := newTestHub(t, metrics)
	conn := dial(t, hub)
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				sums[m.Name] = sum.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(1), sums["websocket_connections_total"])
	assert.Equal(t, int64(0), sums["websocket_connections_active"])
	assert.GreaterOrEqual(t, sums["websocket_messages_sent_total"], int64(1))
}

func TestUpgraderRejectsForeignOrigin(t *testing.T) {
	hub := newTestHub(t, nil)
	server := httptest.NewServer(NewUpgrader(hub, 1024, 1024, time.Minute, "http://localhost:3000"))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	header = map[string][]string{"Origin": {"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	hub.Start()
	conn := dial(t, hub)
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	hub.Stop()
	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
