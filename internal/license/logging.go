package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// logAction logs a validator action. The handler adds trace_id from ctx.
func (v *Validator) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.String("action", action),
	}
	allAttrs = append(allAttrs, attrs...)

	v.logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction is logAction for operations carrying a license key. Only the
// masked key and a short hash are recorded.
func (v *Validator) logLicenseAction(ctx context.Context, level slog.Level, action, result, licenseKey string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.action", action),
			attribute.String("license.key_prefix", maskLicenseKey(licenseKey)),
		)
	}

	licenseAttrs := []slog.Attr{
		slog.String("license_key_masked", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	v.logAction(ctx, level, action, result, licenseAttrs...)
}

func (v *Validator) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (v *Validator) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (v *Validator) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

// maskLicenseKey masks the license key for security
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey creates a short hash of the license key for audit correlation
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
