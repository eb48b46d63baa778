package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "aigem/internal/errors"
	"aigem/internal/license"
	"aigem/internal/middleware"
	"aigem/internal/security"
	apiv1 "aigem/pkg/contracts/api/v1"
	"aigem/pkg/contracts/domain"
)

// LicenseService is the license validator as seen by HTTP handlers.
type LicenseService interface {
	Validate(ctx context.Context) domain.ValidationStatus
	Activate(ctx context.Context, licenseKey string) (*license.ActivationResult, error)
	Heartbeat(ctx context.Context) license.HeartbeatResult
	Deactivate(ctx context.Context) error
}

// FingerprintProvider derives the device fingerprint.
type FingerprintProvider interface {
	Derive(ctx context.Context) *security.DeviceFingerprint
	Platform() security.Platform
}

// EventBroadcaster pushes events to connected UI clients.
type EventBroadcaster interface {
	BroadcastJSON(ctx context.Context, msgType string, data interface{})
}

// LicenseHandler serves the local license API.
type LicenseHandler struct {
	service     LicenseService
	fingerprint FingerprintProvider
	gate        *middleware.LicenseGate
	validator   *middleware.RequestValidator
	errors      *apierrors.ErrorHandler
	events      EventBroadcaster
	logger      *slog.Logger
}

// NewLicenseHandler creates a new license handler. events may be nil.
func NewLicenseHandler(
	service LicenseService,
	fingerprint FingerprintProvider,
	gate *middleware.LicenseGate,
	validator *middleware.RequestValidator,
	errorHandler *apierrors.ErrorHandler,
	events EventBroadcaster,
	logger *slog.Logger,
) *LicenseHandler {
	return &LicenseHandler{
		service:     service,
		fingerprint: fingerprint,
		gate:        gate,
		validator:   validator,
		errors:      errorHandler,
		events:      events,
		logger:      logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Activation waits on the licensing server; leave room above its own timeout.
	r.Use(chimw.Timeout(45 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/access", h.CheckAccess)
	r.With(h.gate.RequireFeature("feature")).Get("/features/{feature}", h.UseFeature)
	r.Get("/fingerprint", h.GetFingerprint)

	r.With(middleware.ContentTypeValidator("application/json")).Post("/activate", h.Activate)
	r.Post("/heartbeat", h.Heartbeat)
	r.Delete("/", h.Deactivate)

	return r
}

func (h *LicenseHandler) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer("aigem/transport").Start(ctx, "license_handler."+operation,
		trace.WithAttributes(
			attribute.String("component", "license_handler"),
			attribute.String("operation", operation),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
}

func statusResponse(status domain.ValidationStatus) apiv1.LicenseStatusResponse {
	return apiv1.LicenseStatusResponse{
		ValidationStatus: status,
		Features:         domain.FeaturesFor(status.Tier),
		Limits:           domain.DefaultLimits[status.Tier],
	}
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "get_status")
	defer span.End()

	status := h.service.Validate(ctx)
	span.SetAttributes(
		attribute.String("license.state", string(status.State)),
		attribute.String("license.tier", status.Tier.String()),
	)

	render.JSON(w, r, statusResponse(status))
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "activate")
	defer span.End()

	var req apiv1.LicenseActivateRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		return
	}

	result, err := h.service.Activate(ctx, req.LicenseKey)
	if err != nil {
		span.RecordError(err)
		traceID := middleware.TraceID(ctx)
		h.logger.WarnContext(ctx, "license activation request failed",
			slog.String("error", err.Error()),
			slog.String("trace_id", traceID))
		render.Render(w, r, apierrors.MapLicenseError(err, traceID))
		return
	}

	span.SetAttributes(attribute.String("license.tier", result.Tier.String()))
	render.JSON(w, r, apiv1.LicenseActivateResponse{
		Success: result.Success,
		Tier:    result.Tier,
		Message: result.Message,
	})
}

// Heartbeat handles POST /api/license/heartbeat. The outcome is always reported
// with 200; a failed heartbeat is not a request error.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "heartbeat")
	defer span.End()

	result := h.service.Heartbeat(ctx)
	span.SetAttributes(attribute.String("license.heartbeat_outcome", string(result.Outcome)))

	resp := apiv1.HeartbeatResultResponse{
		Outcome: string(result.Outcome),
		Reason:  result.Reason,
	}
	if h.events != nil {
		h.events.BroadcastJSON(ctx, "license:heartbeat", resp)
	}
	render.JSON(w, r, resp)
}

// Deactivate handles DELETE /api/license
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "deactivate")
	defer span.End()

	if err := h.service.Deactivate(ctx); err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, apierrors.FileSystemError("deactivation", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckAccess handles GET /api/license/access?tier=PRO or ?feature=notes
func (h *LicenseHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "check_access")
	defer span.End()

	query := r.URL.Query()
	req := apiv1.AccessCheckRequest{
		Tier:    query.Get("tier"),
		Feature: query.Get("feature"),
	}
	if !h.validator.Validate(w, r, &req) {
		return
	}

	resp := apiv1.AccessCheckResponse{Feature: req.Feature}
	if req.Feature != "" {
		required, ok := domain.RequiredTier(domain.Feature(req.Feature))
		if !ok {
			err := fmt.Errorf("%w: %s", apierrors.ErrUnknownFeature, req.Feature)
			render.Render(w, r, apierrors.MapLicenseError(err, middleware.TraceID(ctx)))
			return
		}
		resp.RequiredTier = required
	} else {
		resp.RequiredTier, _ = domain.ParseTier(req.Tier)
	}

	status := h.gate.Status(ctx)
	resp.CurrentTier = status.Tier
	resp.Allowed = domain.HasAccess(status.Tier, resp.RequiredTier)

	span.SetAttributes(
		attribute.String("license.required_tier", resp.RequiredTier.String()),
		attribute.Bool("license.allowed", resp.Allowed),
	)
	render.JSON(w, r, resp)
}

// UseFeature handles GET /api/license/features/{feature}. The gate has already
// rejected tiers that are too low.
func (h *LicenseHandler) UseFeature(w http.ResponseWriter, r *http.Request) {
	feature := domain.Feature(chi.URLParam(r, "feature"))
	required, _ := domain.RequiredTier(feature)

	status, _ := middleware.StatusFromContext(r.Context())
	render.JSON(w, r, apiv1.AccessCheckResponse{
		Allowed:      true,
		CurrentTier:  status.Tier,
		RequiredTier: required,
		Feature:      string(feature),
	})
}

// GetFingerprint handles GET /api/license/fingerprint
func (h *LicenseHandler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "get_fingerprint")
	defer span.End()

	fp := h.fingerprint.Derive(ctx)
	span.SetAttributes(attribute.String("fingerprint.confidence", string(fp.Confidence)))

	render.JSON(w, r, apiv1.FingerprintResponse{
		ID:         fp.ID,
		Confidence: string(fp.Confidence),
		Platform:   h.fingerprint.Platform().Name(),
	})
}
