package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "aigem/internal/errors"
)

const (
	TracerName = "aigem/license"
	MeterName  = "aigem/license"
)

// LicenseMetrics holds all license-specific OpenTelemetry metrics
type LicenseMetrics struct {
	// Activation metrics
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	// Validation metrics
	ValidationResults metric.Int64Counter

	// Heartbeat metrics
	HeartbeatResults  metric.Int64Counter
	HeartbeatDuration metric.Float64Histogram

	// Security metrics
	TamperDetections      metric.Int64Counter
	FingerprintMismatches metric.Int64Counter
	RateLimitHits         metric.Int64Counter
}

// InitializeLicenseMetrics creates all license-specific metrics
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}

	var err error

	metrics.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	metrics.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	metrics.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	metrics.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	metrics.ValidationResults, err = meter.Int64Counter(
		"license_validation_results_total",
		metric.WithDescription("Local license validations by resulting state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation results counter: %w", err)
	}

	metrics.HeartbeatResults, err = meter.Int64Counter(
		"license_heartbeat_results_total",
		metric.WithDescription("License heartbeats by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat results counter: %w", err)
	}

	metrics.HeartbeatDuration, err = meter.Float64Histogram(
		"license_heartbeat_duration_seconds",
		metric.WithDescription("License heartbeat duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat duration histogram: %w", err)
	}

	metrics.TamperDetections, err = meter.Int64Counter(
		"license_record_tamper_detections_total",
		metric.WithDescription("Activation records rejected by the integrity check"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tamper detections counter: %w", err)
	}

	metrics.FingerprintMismatches, err = meter.Int64Counter(
		"license_fingerprint_mismatches_total",
		metric.WithDescription("Activation tokens bound to a different device"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint mismatches counter: %w", err)
	}

	metrics.RateLimitHits, err = meter.Int64Counter(
		"license_activation_rate_limited_total",
		metric.WithDescription("Activation attempts refused by the local rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	return metrics, nil
}

// NewDefaultLicenseMetrics registers the metrics on the global meter provider.
func NewDefaultLicenseMetrics() (*LicenseMetrics, error) {
	return InitializeLicenseMetrics(otel.Meter(MeterName))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("component", "license_validator"))
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records the outcome on span and ends it.
func endSpan(span trace.Span, start time.Time, err error) {
	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_type", classifyLicenseError(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *LicenseMetrics) recordActivation(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}

	labels := metric.WithAttributes(attribute.String("operation", "activation"))
	m.ActivationAttempts.Add(ctx, 1, labels)
	m.ActivationDuration.Record(ctx, duration.Seconds(), labels)

	if err == nil {
		m.ActivationSuccess.Add(ctx, 1, labels)
		return
	}
	m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", "activation"),
		attribute.String("error_type", classifyLicenseError(err)),
	))
}

func (m *LicenseMetrics) recordValidation(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.ValidationResults.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *LicenseMetrics) recordHeartbeat(ctx context.Context, duration time.Duration, outcome HeartbeatOutcome) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	m.HeartbeatResults.Add(ctx, 1, labels)
	if outcome != HeartbeatSkipped {
		m.HeartbeatDuration.Record(ctx, duration.Seconds(), labels)
	}
}

func (m *LicenseMetrics) recordTamper(ctx context.Context) {
	if m == nil {
		return
	}
	m.TamperDetections.Add(ctx, 1)
}

func (m *LicenseMetrics) recordMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.FingerprintMismatches.Add(ctx, 1)
}

func (m *LicenseMetrics) recordRateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitHits.Add(ctx, 1)
}

// classifyLicenseError categorizes license errors for metrics and spans
func classifyLicenseError(err error) string {
	var rejection *licenseErrors.RejectionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejection):
		return "rejected"
	case errors.Is(err, licenseErrors.ErrNetworkError):
		return "network_error"
	case errors.Is(err, licenseErrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, licenseErrors.ErrInvalidLicenseKey):
		return "invalid_license"
	case errors.Is(err, licenseErrors.ErrActivationFailed):
		return "bad_response"
	default:
		return "unknown_error"
	}
}
