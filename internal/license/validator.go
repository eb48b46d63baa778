package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"aigem/internal/config"
	licenseErrors "aigem/internal/errors"
	"aigem/internal/security"
	api "aigem/pkg/contracts/api/v1"
	"aigem/pkg/contracts/domain"
)

// ActivationSuccessMessage is reported after a successful activation.
const ActivationSuccessMessage = "License activated successfully!"

// LicenseServer is the remote side of activation and heartbeat.
type LicenseServer interface {
	Activate(ctx context.Context, req api.ActivateRequest) (*api.ActivateResponse, error)
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) (*api.HeartbeatResponse, error)
}

// FingerprintSource yields the fingerprint of the running device.
type FingerprintSource interface {
	Derive(ctx context.Context) *security.DeviceFingerprint
}

// ActivationResult is the outcome of a successful activation.
type ActivationResult struct {
	Success bool        `json:"success"`
	Tier    domain.Tier `json:"tier"`
	Message string      `json:"message"`
}

// HeartbeatOutcome classifies a heartbeat attempt.
type HeartbeatOutcome string

const (
	HeartbeatSkipped   HeartbeatOutcome = "skipped"
	HeartbeatRefreshed HeartbeatOutcome = "refreshed"
	HeartbeatFailed    HeartbeatOutcome = "failed"
)

// HeartbeatResult reports a heartbeat. Failures never surface as errors.
type HeartbeatResult struct {
	Outcome HeartbeatOutcome `json:"outcome"`
	Reason  string           `json:"reason,omitempty"`
}

// Validator owns the activation record of this device: it activates, checks
// the record offline and refreshes it with heartbeats. Local problems always
// resolve to the FREE tier.
type Validator struct {
	store       *ActivationStore
	server      LicenseServer
	fingerprint FingerprintSource
	logger      *slog.Logger
	metrics     *LicenseMetrics
	limiter     *rate.Limiter
	now         func() time.Time

	graceDays         int
	activationTimeout time.Duration
	heartbeatTimeout  time.Duration

	mu sync.Mutex // serialises record writes

	subMu       sync.RWMutex
	subscribers []func(domain.ValidationStatus)
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics enables metric recording.
func WithMetrics(metrics *LicenseMetrics) Option {
	return func(v *Validator) { v.metrics = metrics }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithGracePeriod sets the number of whole offline days tolerated since the last heartbeat.
func WithGracePeriod(days int) Option {
	return func(v *Validator) { v.graceDays = days }
}

// WithTimeouts sets the activation and heartbeat deadlines.
func WithTimeouts(activation, heartbeat time.Duration) Option {
	return func(v *Validator) {
		v.activationTimeout = activation
		v.heartbeatTimeout = heartbeat
	}
}

// WithActivationLimit allows burst activation attempts, then one per refill interval.
func WithActivationLimit(burst int, refill time.Duration) Option {
	return func(v *Validator) {
		v.limiter = rate.NewLimiter(rate.Every(refill), burst)
	}
}

// NewValidator creates a validator over store, server and fingerprint.
func NewValidator(store *ActivationStore, server LicenseServer, fingerprint FingerprintSource, opts ...Option) *Validator {
	v := &Validator{
		store:             store,
		server:            server,
		fingerprint:       fingerprint,
		logger:            slog.Default(),
		limiter:           rate.NewLimiter(rate.Every(3*time.Minute), 5),
		now:               time.Now,
		graceDays:         config.DefaultGracePeriodDays,
		activationTimeout: config.DefaultActivationTimeout,
		heartbeatTimeout:  config.DefaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(slog.String("component", "license_validator"))
	return v
}

// NewValidatorFromConfig applies the license section of the configuration.
func NewValidatorFromConfig(cfg config.LicenseConfig, store *ActivationStore, server LicenseServer, fingerprint FingerprintSource, opts ...Option) *Validator {
	base := []Option{
		WithGracePeriod(cfg.GracePeriodDays),
		WithTimeouts(cfg.ActivationTimeout.Duration, cfg.HeartbeatTimeout.Duration),
		WithActivationLimit(cfg.ActivationBurst, cfg.ActivationRefill.Duration),
	}
	return NewValidator(store, server, fingerprint, append(base, opts...)...)
}

// Store returns the underlying activation store.
func (v *Validator) Store() *ActivationStore {
	return v.store
}

// Subscribe registers fn to receive the status after every change of the record.
func (v *Validator) Subscribe(fn func(domain.ValidationStatus)) {
	v.subMu.Lock()
	v.subscribers = append(v.subscribers, fn)
	v.subMu.Unlock()
}

func (v *Validator) notify(ctx context.Context) {
	v.subMu.RLock()
	subs := append([]func(domain.ValidationStatus){}, v.subscribers...)
	v.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}
	status := v.Validate(ctx)
	for _, fn := range subs {
		fn(status)
	}
}

// Activate exchanges licenseKey for an activation key bound to this device and
// persists it. On any failure the stored record is left untouched.
func (v *Validator) Activate(ctx context.Context, licenseKey string) (*ActivationResult, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return nil, licenseErrors.ErrInvalidLicenseKey
	}

	if !v.limiter.Allow() {
		v.metrics.recordRateLimited(ctx)
		v.logLicenseAction(ctx, slog.LevelWarn, "activation", "Activation attempt rate limited", licenseKey)
		return nil, licenseErrors.ErrRateLimited
	}

	ctx, span := startSpan(ctx, "license.activation",
		attribute.String("license.operation", "activation"),
		attribute.String("license.key_prefix", maskLicenseKey(licenseKey)))
	start := time.Now()

	result, err := v.activate(ctx, licenseKey)

	endSpan(span, start, err)
	v.metrics.recordActivation(ctx, time.Since(start), err)

	if err != nil {
		v.logLicenseAction(ctx, slog.LevelError, "activation", "License activation failed", licenseKey,
			slog.String("error", err.Error()),
			slog.String("error_type", classifyLicenseError(err)),
			slog.Duration("duration", time.Since(start)))
		return nil, err
	}

	v.logLicenseAction(ctx, slog.LevelInfo, "activation", "License activated", licenseKey,
		slog.String("tier", result.Tier.String()),
		slog.Duration("duration", time.Since(start)))
	v.notify(ctx)
	return result, nil
}

func (v *Validator) activate(ctx context.Context, licenseKey string) (*ActivationResult, error) {
	fp := v.fingerprint.Derive(ctx)

	reqCtx, cancel := context.WithTimeout(ctx, v.activationTimeout)
	defer cancel()

	resp, err := v.server.Activate(reqCtx, api.ActivateRequest{
		LicenseKey:          licenseKey,
		HardwareFingerprint: fp.ID,
		DeviceInfo: api.DeviceInfo{
			OS:  fp.OS,
			CPU: fp.CPU,
		},
	})
	if err != nil {
		return nil, err
	}

	// Refuse a grant that Validate would discard, keeping any prior record.
	tok, err := ParseToken(resp.ActivationKey)
	if err != nil {
		v.logWarn(ctx, "activation", "Server issued an unusable activation key",
			slog.String("tier", resp.Tier),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: server issued an unusable activation key: %v",
			licenseErrors.ErrActivationFailed, err)
	}
	if !fp.Matches(tok.HWID) {
		v.logWarn(ctx, "activation", "Server issued an activation key for another device",
			slog.String("fingerprint", fp.Short()))
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrActivationFailed, licenseErrors.ErrHardwareMismatch)
	}

	v.mu.Lock()
	err = v.store.Save([]byte(resp.ActivationKey))
	v.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist activation: %w", err)
	}

	return &ActivationResult{
		Success: true,
		Tier:    tok.Tier,
		Message: ActivationSuccessMessage,
	}, nil
}

// Validate checks the stored record offline. It performs no network I/O and
// never fails; anything unusable yields UNACTIVATED at the FREE tier.
func (v *Validator) Validate(ctx context.Context) domain.ValidationStatus {
	status := v.validate(ctx)
	v.metrics.recordValidation(ctx, string(status.State))
	return status
}

func (v *Validator) validate(ctx context.Context) domain.ValidationStatus {
	now := v.now().UTC()

	raw, err := v.store.Read()
	if err != nil {
		if errors.Is(err, licenseErrors.ErrRecordTampered) {
			v.metrics.recordTamper(ctx)
			v.logWarn(ctx, "validation", "Activation record failed integrity check",
				slog.String("path", v.store.Path()))
		} else if !errors.Is(err, licenseErrors.ErrLicenseNotActivated) {
			v.logWarn(ctx, "validation", "Activation record unreadable",
				slog.String("error", err.Error()))
		}
		return domain.Unactivated(err.Error(), now)
	}

	tok, err := ParseToken(string(raw))
	if err != nil {
		v.logWarn(ctx, "validation", "Activation key could not be decoded",
			slog.String("error", err.Error()))
		return domain.Unactivated(err.Error(), now)
	}

	fp := v.fingerprint.Derive(ctx)
	if !fp.Matches(tok.HWID) {
		v.metrics.recordMismatch(ctx)
		v.logWarn(ctx, "validation", "Activation key belongs to another device",
			slog.String("fingerprint", fp.Short()))
		return domain.Unactivated(licenseErrors.ErrHardwareMismatch.Error(), now)
	}

	days := DaysSince(tok.LastHeartbeatAt, now)
	issued, heartbeat := tok.IssuedAt, tok.LastHeartbeatAt
	status := domain.ValidationStatus{
		EntitledTier:       tok.Tier,
		IssuedAt:           &issued,
		LastHeartbeatAt:    &heartbeat,
		DaysSinceHeartbeat: max(days, 0),
		CheckedAt:          now,
	}

	if days > v.graceDays {
		status.State = domain.StateGraceExpired
		status.Tier = domain.TierFree
		status.Reason = licenseErrors.ErrGraceExpired.Error()
		v.logDebug(ctx, "validation", "Offline grace period expired",
			slog.Int("days_since_heartbeat", days))
		return status
	}

	status.State = domain.StateActive
	status.Tier = tok.Tier
	status.GraceDaysRemaining = v.graceDays - status.DaysSinceHeartbeat
	return status
}

// DaysSince is the number of whole days from t to now, floored.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// Heartbeat refreshes the stored activation key. The refreshed key is only
// persisted when it decodes, stays on this device and does not move the last
// heartbeat backwards; otherwise the record is left byte-for-byte unchanged.
func (v *Validator) Heartbeat(ctx context.Context) HeartbeatResult {
	ctx, span := startSpan(ctx, "license.heartbeat",
		attribute.String("license.operation", "heartbeat"))
	start := time.Now()

	result := v.heartbeat(ctx)

	var spanErr error
	if result.Outcome == HeartbeatFailed {
		spanErr = errors.New(result.Reason)
	}
	span.SetAttributes(attribute.String("license.heartbeat_outcome", string(result.Outcome)))
	endSpan(span, start, spanErr)
	v.metrics.recordHeartbeat(ctx, time.Since(start), result.Outcome)

	switch result.Outcome {
	case HeartbeatRefreshed:
		v.logInfo(ctx, "heartbeat", "License heartbeat refreshed")
		v.notify(ctx)
	case HeartbeatFailed:
		v.logWarn(ctx, "heartbeat", "License heartbeat failed", slog.String("reason", result.Reason))
	default:
		v.logDebug(ctx, "heartbeat", "License heartbeat skipped", slog.String("reason", result.Reason))
	}
	return result
}

func (v *Validator) heartbeat(ctx context.Context) HeartbeatResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := v.store.Read()
	if err != nil {
		return HeartbeatResult{Outcome: HeartbeatSkipped, Reason: err.Error()}
	}

	// an undecodable stored key is still sent; the server may reissue it
	current, _ := ParseToken(string(raw))

	reqCtx, cancel := context.WithTimeout(ctx, v.heartbeatTimeout)
	defer cancel()

	resp, err := v.server.Heartbeat(reqCtx, api.HeartbeatRequest{ActivationKey: string(raw)})
	if err != nil {
		return HeartbeatResult{Outcome: HeartbeatFailed, Reason: err.Error()}
	}

	next, err := ParseToken(resp.ActivationKey)
	if err != nil {
		return HeartbeatResult{Outcome: HeartbeatFailed, Reason: "refreshed activation key rejected: " + err.Error()}
	}
	if current != nil {
		if next.LastHeartbeatAt.Before(current.LastHeartbeatAt) {
			return HeartbeatResult{Outcome: HeartbeatFailed, Reason: "refreshed activation key is older than the stored one"}
		}
		if !strings.EqualFold(next.HWID, current.HWID) {
			return HeartbeatResult{Outcome: HeartbeatFailed, Reason: licenseErrors.ErrHardwareMismatch.Error()}
		}
	}

	if err := v.store.Save([]byte(resp.ActivationKey)); err != nil {
		return HeartbeatResult{Outcome: HeartbeatFailed, Reason: err.Error()}
	}
	return HeartbeatResult{Outcome: HeartbeatRefreshed}
}

// Deactivate removes the local activation record.
func (v *Validator) Deactivate(ctx context.Context) error {
	v.mu.Lock()
	err := v.store.Clear()
	v.mu.Unlock()
	if err != nil {
		return err
	}
	v.logInfo(ctx, "deactivation", "License deactivated on this device")
	v.notify(ctx)
	return nil
}

// LastHeartbeat returns the heartbeat time of the stored key, if there is a usable one.
func (v *Validator) LastHeartbeat() (time.Time, bool) {
	raw, ok := v.store.Load()
	if !ok {
		return time.Time{}, false
	}
	tok, err := ParseToken(string(raw))
	if err != nil {
		return time.Time{}, false
	}
	return tok.LastHeartbeatAt, true
}

// Now returns the validator clock.
func (v *Validator) Now() time.Time {
	return v.now()
}
