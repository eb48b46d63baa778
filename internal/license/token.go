package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	licenseErrors "aigem/internal/errors"
	"aigem/pkg/contracts/domain"
)

// Claim names carried by an activation key.
const (
	ClaimTier          = "tier"
	ClaimHWID          = "hwid"
	ClaimIssued        = "issued"
	ClaimLastHeartbeat = "last_heartbeat"
)

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ActivationToken is the decoded view of an activation key. The signature is
// never checked offline; integrity of the local copy comes from the record tag.
type ActivationToken struct {
	Tier            domain.Tier
	HWID            string
	IssuedAt        time.Time
	LastHeartbeatAt time.Time
	Raw             string
}

// ParseToken decodes an activation key. JWTs are read without verification;
// a bare JSON object is accepted as the compact form. Every failure wraps
// ErrRecordCorrupt.
func ParseToken(raw string) (*ActivationToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty activation key", licenseErrors.ErrRecordCorrupt)
	}

	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrRecordCorrupt, err)
	}

	tok := &ActivationToken{Raw: raw, Tier: domain.TierFree}

	if v, ok := claims[ClaimTier]; ok && v != nil {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: tier claim is not a string", licenseErrors.ErrRecordCorrupt)
		}
		// Token tiers must be exact; "pro" is as unknown as "GOLD".
		tier := domain.Tier(name)
		if !tier.Known() {
			return nil, fmt.Errorf("%w: unknown tier %q", licenseErrors.ErrRecordCorrupt, name)
		}
		tok.Tier = tier
	}

	if v, ok := claims[ClaimHWID].(string); ok {
		tok.HWID = strings.TrimSpace(v)
	}

	issued, ok := claims[ClaimIssued]
	if !ok || issued == nil {
		return nil, fmt.Errorf("%w: missing issued claim", licenseErrors.ErrRecordCorrupt)
	}
	if tok.IssuedAt, err = parseTimestamp(issued); err != nil {
		return nil, fmt.Errorf("%w: issued: %v", licenseErrors.ErrRecordCorrupt, err)
	}

	tok.LastHeartbeatAt = tok.IssuedAt
	if hb, ok := claims[ClaimLastHeartbeat]; ok && hb != nil {
		if tok.LastHeartbeatAt, err = parseTimestamp(hb); err != nil {
			return nil, fmt.Errorf("%w: last_heartbeat: %v", licenseErrors.ErrRecordCorrupt, err)
		}
	}

	return tok, nil
}

func decodeClaims(raw string) (map[string]interface{}, error) {
	if strings.HasPrefix(raw, "{") {
		var claims map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &claims); err != nil {
			return nil, fmt.Errorf("invalid token json: %w", err)
		}
		return claims, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// parseTimestamp accepts ISO-8601 strings and numeric Unix seconds.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case string:
		ts = strings.TrimSpace(ts)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", ts)
	case float64:
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	case json.Number:
		f, err := ts.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return parseTimestamp(f)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
