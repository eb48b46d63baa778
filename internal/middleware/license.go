package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "aigem/internal/errors"
	"aigem/pkg/contracts/domain"
)

// StatusProvider reports the current license status. It is satisfied by the
// license validator.
type StatusProvider interface {
	Validate(ctx context.Context) domain.ValidationStatus
}

type statusKey struct{}

// StatusFromContext returns the license status stored by a LicenseGate.
func StatusFromContext(ctx context.Context) (domain.ValidationStatus, bool) {
	status, ok := ctx.Value(statusKey{}).(domain.ValidationStatus)
	return status, ok
}

// WithStatus stores status on ctx.
func WithStatus(ctx context.Context, status domain.ValidationStatus) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

// LicenseGate enforces tier requirements on routes.
type LicenseGate struct {
	provider     StatusProvider
	logger       *slog.Logger
	cache        *statusCache
	excludePaths []string
}

// statusCache keeps the last validation for a short time so a burst of gated
// requests does not re-read the activation record each time.
type statusCache struct {
	mu        sync.RWMutex
	status    domain.ValidationStatus
	checkedAt time.Time
	valid     bool
	ttl       time.Duration
}

// NewLicenseGate creates the gate. The default cache TTL is five seconds.
func NewLicenseGate(provider StatusProvider, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		provider: provider,
		logger:   logger.With(slog.String("component", "license_gate")),
		cache:    &statusCache{ttl: 5 * time.Second},
		excludePaths: []string{
			"/healthz",
			"/metrics",
		},
	}
}

// SetCacheTTL changes how long a status is reused. Zero disables caching.
func (g *LicenseGate) SetCacheTTL(ttl time.Duration) {
	g.cache.mu.Lock()
	defer g.cache.mu.Unlock()
	g.cache.ttl = ttl
	g.cache.valid = false
}

// InvalidateCache drops the cached status. Subscribe it to status changes.
func (g *LicenseGate) InvalidateCache() {
	g.cache.mu.Lock()
	defer g.cache.mu.Unlock()
	g.cache.valid = false
}

// Status returns the current status, from cache when fresh.
func (g *LicenseGate) Status(ctx context.Context) domain.ValidationStatus {
	g.cache.mu.RLock()
	if g.cache.valid && time.Since(g.cache.checkedAt) < g.cache.ttl {
		status := g.cache.status
		g.cache.mu.RUnlock()
		return status
	}
	g.cache.mu.RUnlock()

	status := g.provider.Validate(ctx)

	g.cache.mu.Lock()
	if g.cache.ttl > 0 {
		g.cache.status = status
		g.cache.checkedAt = time.Now()
		g.cache.valid = true
	}
	g.cache.mu.Unlock()
	return status
}

// AttachStatus puts the current status on the request context without
// enforcing anything.
func (g *LicenseGate) AttachStatus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := WithStatus(r.Context(), g.Status(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTier rejects requests whose effective tier is below required with 402.
func (g *LicenseGate) RequireTier(required domain.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.enforce(w, r, next, required, "")
		})
	}
}

// RequireFeature gates on the tier that unlocks the feature named by the
// URL parameter param. Unknown features get 404.
func (g *LicenseGate) RequireFeature(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feature := domain.Feature(chi.URLParam(r, param))
			required, ok := domain.RequiredTier(feature)
			if !ok {
				problem := apierrors.MapLicenseError(
					fmt.Errorf("%w: %s", apierrors.ErrUnknownFeature, feature),
					TraceID(r.Context()),
				)
				render.Render(w, r, problem)
				return
			}
			g.enforce(w, r, next, required, string(feature))
		})
	}
}

func (g *LicenseGate) enforce(w http.ResponseWriter, r *http.Request, next http.Handler, required domain.Tier, feature string) {
	ctx, span := otel.Tracer("aigem/middleware").Start(r.Context(), "license.gate",
		trace.WithAttributes(
			attribute.String("license.required_tier", required.String()),
			attribute.String("license.feature", feature),
		),
	)
	defer span.End()

	status := g.Status(ctx)
	allowed := domain.HasAccess(status.Tier, required)
	span.SetAttributes(
		attribute.String("license.state", string(status.State)),
		attribute.String("license.tier", status.Tier.String()),
		attribute.Bool("license.allowed", allowed),
	)

	if !allowed {
		g.logger.InfoContext(ctx, "access denied",
			slog.String("path", r.URL.Path),
			slog.String("current_tier", status.Tier.String()),
			slog.String("required_tier", required.String()),
			slog.String("feature", feature),
			slog.String("state", string(status.State)),
		)
		render.Render(w, r, apierrors.NewTierRequiredError(
			status.Tier.String(), required.String(), feature, TraceID(ctx)))
		return
	}

	next.ServeHTTP(w, r.WithContext(WithStatus(ctx, status)))
}

func (g *LicenseGate) isExcluded(path string) bool {
	for _, p := range g.excludePaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
