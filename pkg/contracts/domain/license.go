// Package domain contains the core license domain models shared by every layer:
// tiers and their ordering, validator states and the status reported to callers.
package domain

import (
	"strings"
	"time"
)

// Tier is a named entitlement level.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierStarter Tier = "STARTER"
	TierPro     Tier = "PRO"
	TierPremium Tier = "PREMIUM"
)

// Tiers lists every known tier in ascending order.
var Tiers = []Tier{TierFree, TierStarter, TierPro, TierPremium}

// Ordinal returns the position of the tier in the ordering, or -1 for unknown names.
func (t Tier) Ordinal() int {
	switch t {
	case TierFree:
		return 0
	case TierStarter:
		return 1
	case TierPro:
		return 2
	case TierPremium:
		return 3
	default:
		return -1
	}
}

// Known reports whether t is one of the four defined tiers.
func (t Tier) Known() bool {
	return t.Ordinal() >= 0
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier normalizes a user-typed tier name (CLI arguments, query strings).
// The second result is false for unknown names. Tier names inside activation
// keys are matched exactly and never go through ParseTier.
func ParseTier(name string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(name)))
	return t, t.Known()
}

// HasAccess reports whether current satisfies required.
// Unknown tiers on either side never grant access.
func HasAccess(current, required Tier) bool {
	cur, req := current.Ordinal(), required.Ordinal()
	if cur < 0 || req < 0 {
		return false
	}
	return cur >= req
}

// LicenseState is the validator state machine position.
type LicenseState string

const (
	StateUnactivated  LicenseState = "UNACTIVATED"
	StateActive       LicenseState = "ACTIVE"
	StateGraceExpired LicenseState = "GRACE_EXPIRED"
)

// ValidationStatus is the result of a local license check.
// Tier is the effective tier; EntitledTier is what the token grants and is kept
// for display when the grace period has expired.
type ValidationStatus struct {
	State              LicenseState `json:"state"`
	Tier               Tier         `json:"tier"`
	EntitledTier       Tier         `json:"entitled_tier,omitempty"`
	Reason             string       `json:"reason,omitempty"`
	IssuedAt           *time.Time   `json:"issued_at,omitempty"`
	LastHeartbeatAt    *time.Time   `json:"last_heartbeat_at,omitempty"`
	DaysSinceHeartbeat int          `json:"days_since_heartbeat,omitempty"`
	GraceDaysRemaining int          `json:"grace_days_remaining,omitempty"`
	CheckedAt          time.Time    `json:"checked_at"`
}

// Active reports whether the status grants the entitled tier.
func (s ValidationStatus) Active() bool {
	return s.State == StateActive
}

// Unactivated returns the fail-closed status.
func Unactivated(reason string, now time.Time) ValidationStatus {
	return ValidationStatus{
		State:     StateUnactivated,
		Tier:      TierFree,
		Reason:    reason,
		CheckedAt: now,
	}
}
