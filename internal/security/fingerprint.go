package security

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Confidence describes how strongly a fingerprint is tied to the hardware.
type Confidence string

const (
	// ConfidenceStrong means every hardware identifier was collected.
	ConfidenceStrong Confidence = "strong"
	// ConfidencePartial means some identifiers were missing.
	ConfidencePartial Confidence = "partial"
	// ConfidenceWeak means only hostname and user name were available.
	ConfidenceWeak Confidence = "weak"
)

// displayGroups and groupSize shape the human-readable ID: xxxx-xxxx-xxxx-xxxx-xxxx.
const (
	displayGroups = 5
	groupSize     = 4
)

// DeviceFingerprint identifies this machine for license binding.
type DeviceFingerprint struct {
	ID          string     `json:"id"`
	Digest      string     `json:"digest"`
	Confidence  Confidence `json:"confidence"`
	Components  []string   `json:"components"`
	OS          string     `json:"os"`
	CPU         string     `json:"cpu"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Matches reports whether hwid names this device. Both the full digest and the
// grouped display form are accepted, case-insensitively.
func (f *DeviceFingerprint) Matches(hwid string) bool {
	hwid = strings.ToLower(strings.TrimSpace(hwid))
	if hwid == "" || f == nil {
		return false
	}
	digestMatch := subtle.ConstantTimeCompare([]byte(hwid), []byte(f.Digest)) == 1
	idMatch := subtle.ConstantTimeCompare([]byte(hwid), []byte(f.ID)) == 1
	return digestMatch || idMatch
}

// Short returns a truncated ID safe for logs.
func (f *DeviceFingerprint) Short() string {
	if len(f.ID) < groupSize {
		return f.ID
	}
	return f.ID[:groupSize] + "-..."
}

// Fingerprinter derives and caches the device fingerprint.
type Fingerprinter struct {
	platform      Platform
	logger        *slog.Logger
	now           func() time.Time
	cacheDuration time.Duration

	mu          sync.RWMutex
	cache       *DeviceFingerprint
	cacheExpiry time.Time
}

// FingerprinterOption configures a Fingerprinter.
type FingerprinterOption func(*Fingerprinter)

// WithCacheDuration sets how long a derived fingerprint is reused. Zero disables caching.
func WithCacheDuration(d time.Duration) FingerprinterOption {
	return func(f *Fingerprinter) { f.cacheDuration = d }
}

// WithFingerprintLogger sets the logger.
func WithFingerprintLogger(logger *slog.Logger) FingerprinterOption {
	return func(f *Fingerprinter) { f.logger = logger }
}

// WithFingerprintClock overrides the clock.
func WithFingerprintClock(now func() time.Time) FingerprinterOption {
	return func(f *Fingerprinter) { f.now = now }
}

// NewFingerprinter creates a fingerprinter over platform.
func NewFingerprinter(platform Platform, opts ...FingerprinterOption) *Fingerprinter {
	f := &Fingerprinter{
		platform:      platform,
		logger:        slog.Default(),
		now:           time.Now,
		cacheDuration: time.Hour,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "fingerprint"))
	return f
}

// Platform returns the platform the fingerprinter reads from.
func (f *Fingerprinter) Platform() Platform {
	return f.platform
}

// Derive returns the device fingerprint. It never fails: when no hardware
// identifier can be read the weak hostname-user identity is hashed instead.
func (f *Fingerprinter) Derive(ctx context.Context) *DeviceFingerprint {
	f.mu.RLock()
	if f.cache != nil && f.now().Before(f.cacheExpiry) {
		fp := *f.cache
		f.mu.RUnlock()
		return &fp
	}
	f.mu.RUnlock()

	fp := f.derive(ctx)

	if f.cacheDuration > 0 {
		f.mu.Lock()
		f.cache = fp
		f.cacheExpiry = f.now().Add(f.cacheDuration)
		f.mu.Unlock()
	}

	cp := *fp
	return &cp
}

// Invalidate drops the cached fingerprint.
func (f *Fingerprinter) Invalidate() {
	f.mu.Lock()
	f.cache = nil
	f.mu.Unlock()
}

func (f *Fingerprinter) derive(ctx context.Context) *DeviceFingerprint {
	ids, err := f.platform.CollectIdentifiers(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "Hardware identifiers incomplete",
			slog.String("platform", f.platform.Name()),
			slog.Int("collected", len(ids)),
			slog.String("error", err.Error()))
	}

	fp := &DeviceFingerprint{
		OS:          f.platform.Name(),
		GeneratedAt: f.now(),
	}

	var values []string
	for _, id := range ids {
		if id.Value == "" {
			continue
		}
		values = append(values, id.Value)
		fp.Components = append(fp.Components, id.Name)
		if id.Name == IdentifierCPU {
			fp.CPU = id.Value
		}
	}

	switch {
	case len(values) == 0:
		values = []string{WeakIdentity()}
		fp.Components = []string{"hostname", "user"}
		fp.Confidence = ConfidenceWeak
	case err != nil || len(values) < 3:
		fp.Confidence = ConfidencePartial
	default:
		fp.Confidence = ConfidenceStrong
	}

	fp.Digest, fp.ID = Hash(values)

	f.logger.DebugContext(ctx, "Device fingerprint derived",
		slog.String("fingerprint", fp.Short()),
		slog.String("confidence", string(fp.Confidence)),
		slog.Any("components", fp.Components))

	return fp
}

// Hash joins values with "-" and returns the SHA-256 hex digest and its
// grouped display form.
func Hash(values []string) (digest, display string) {
	sum := sha256.Sum256([]byte(strings.Join(values, "-")))
	digest = hex.EncodeToString(sum[:])

	groups := make([]string, displayGroups)
	for i := range groups {
		groups[i] = digest[i*groupSize : (i+1)*groupSize]
	}
	return digest, strings.Join(groups, "-")
}
