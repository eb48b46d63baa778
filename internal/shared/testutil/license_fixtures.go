package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"

	"aigem/internal/security"
	api "aigem/pkg/contracts/api/v1"
)

// TestLicenseKey is a well-formed license key for fixtures.
const TestLicenseKey = "AIGEM-PRO-7F3K-92QX-LM4T"

// tokenSigningKey signs fixture JWTs. Signatures are never verified offline.
var tokenSigningKey = []byte("fixture-signing-key")

// isoNaive is the timestamp shape the licensing server emits (no zone, UTC).
const isoNaive = "2006-01-02T15:04:05.000000"

// DefaultIdentifiers is a complete identifier set for a fake device.
func DefaultIdentifiers() []security.Identifier {
	return []security.Identifier{
		{Name: security.IdentifierCPU, Value: "GenuineIntel/Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz"},
		{Name: security.IdentifierMAC, Value: "3c:22:fb:0a:1b:2c"},
		{Name: security.IdentifierMachineGUID, Value: "6f1c2d9e-1a77-4f0e-9f51-0c2b8e4d7a10"},
	}
}

// FakePlatform is a security.Platform with fixed answers.
type FakePlatform struct {
	PlatformName string
	Identifiers  []security.Identifier
	CollectErr   error
	Path         string
	Secret       string
}

// NewFakePlatform returns a strong-identity platform storing its record under dir.
func NewFakePlatform(dir string) *FakePlatform {
	return &FakePlatform{
		PlatformName: "Linux",
		Identifiers:  DefaultIdentifiers(),
		Path:         filepath.Join(dir, ".sysconf", ".lic"),
		Secret:       "test-host-tester",
	}
}

func (p *FakePlatform) Name() string { return p.PlatformName }

func (p *FakePlatform) CollectIdentifiers(ctx context.Context) ([]security.Identifier, error) {
	return p.Identifiers, p.CollectErr
}

func (p *FakePlatform) StoragePath() (string, error) { return p.Path, nil }

func (p *FakePlatform) DeviceSecret() (string, error) { return p.Secret, nil }

// Fingerprint derives the fingerprint the platform produces.
func (p *FakePlatform) Fingerprint() *security.DeviceFingerprint {
	return security.NewFingerprinter(p, security.WithCacheDuration(0)).Derive(context.Background())
}

// TokenClaims describes a fixture activation key.
type TokenClaims struct {
	Tier          string
	HWID          string
	Issued        time.Time
	LastHeartbeat time.Time // zero omits the claim
}

func (c TokenClaims) mapClaims() jwt.MapClaims {
	claims := jwt.MapClaims{
		"tier":   c.Tier,
		"hwid":   c.HWID,
		"issued": c.Issued.UTC().Format(isoNaive),
	}
	if !c.LastHeartbeat.IsZero() {
		claims["last_heartbeat"] = c.LastHeartbeat.UTC().Format(isoNaive)
	}
	return claims
}

// SignedToken encodes claims as an HS256 JWT.
func SignedToken(t testing.TB, claims TokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims.mapClaims()).SignedString(tokenSigningKey)
	if err != nil {
		t.Fatalf("sign fixture token: %v", err)
	}
	return token
}

// CompactToken encodes claims as bare JSON.
func CompactToken(t testing.TB, claims TokenClaims) string {
	t.Helper()
	data, err := json.Marshal(claims.mapClaims())
	if err != nil {
		t.Fatalf("encode fixture token: %v", err)
	}
	return string(data)
}

// MockLicenseServer is an httptest licensing server. Handlers default to
// granting PRO and echoing a refreshed key.
type MockLicenseServer struct {
	*httptest.Server

	mu               sync.Mutex
	activateHandler  func(api.ActivateRequest) (int, interface{})
	heartbeatHandler func(api.HeartbeatRequest) (int, interface{})
	activations      []api.ActivateRequest
	heartbeats       []api.HeartbeatRequest
}

// NewMockLicenseServer starts a server that is closed with the test.
func NewMockLicenseServer(t testing.TB) *MockLicenseServer {
	m := &MockLicenseServer{}

	r := chi.NewRouter()
	r.Post("/license/activate", m.handleActivate)
	r.Post("/license/heartbeat", m.handleHeartbeat)

	m.Server = httptest.NewServer(r)
	t.Cleanup(m.Close)
	return m
}

// OnActivate replaces the activation handler.
func (m *MockLicenseServer) OnActivate(fn func(api.ActivateRequest) (int, interface{})) {
	m.mu.Lock()
	m.activateHandler = fn
	m.mu.Unlock()
}

// OnHeartbeat replaces the heartbeat handler.
func (m *MockLicenseServer) OnHeartbeat(fn func(api.HeartbeatRequest) (int, interface{})) {
	m.mu.Lock()
	m.heartbeatHandler = fn
	m.mu.Unlock()
}

// Activations returns the activation requests received so far.
func (m *MockLicenseServer) Activations() []api.ActivateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.ActivateRequest(nil), m.activations...)
}

// Heartbeats returns the heartbeat requests received so far.
func (m *MockLicenseServer) Heartbeats() []api.HeartbeatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.HeartbeatRequest(nil), m.heartbeats...)
}

func (m *MockLicenseServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.ErrorResponse{Error: "invalid request"})
		return
	}

	m.mu.Lock()
	m.activations = append(m.activations, req)
	handler := m.activateHandler
	m.mu.Unlock()

	status, body := http.StatusOK, interface{}(api.ActivateResponse{ActivationKey: "unset", Tier: "PRO"})
	if handler != nil {
		status, body = handler(req)
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

func (m *MockLicenseServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.ErrorResponse{Error: "invalid request"})
		return
	}

	m.mu.Lock()
	m.heartbeats = append(m.heartbeats, req)
	handler := m.heartbeatHandler
	m.mu.Unlock()

	status, body := http.StatusOK, interface{}(api.HeartbeatResponse{ActivationKey: req.ActivationKey})
	if handler != nil {
		status, body = handler(req)
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}
