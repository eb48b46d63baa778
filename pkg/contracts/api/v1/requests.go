// Package api contains the wire contracts of the licensing server and of the
// local license API. Version v1 is the current stable shape.
package api

import (
	"aigem/pkg/contracts/domain"
)

// Licensing server requests

// DeviceInfo describes the machine an activation is requested from.
type DeviceInfo struct {
	OS  string `json:"os"`
	CPU string `json:"cpu"`
}

// ActivateRequest is the body of POST /license/activate.
type ActivateRequest struct {
	LicenseKey          string     `json:"license_key" validate:"required"`
	HardwareFingerprint string     `json:"hardware_fingerprint" validate:"required"`
	DeviceInfo          DeviceInfo `json:"device_info"`
}

// HeartbeatRequest is the body of POST /license/heartbeat.
type HeartbeatRequest struct {
	ActivationKey string `json:"activation_key" validate:"required"`
}

// Local API requests

// LicenseActivateRequest is accepted by the local activation endpoint.
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=4,max=256"`
}

// AccessCheckRequest asks whether the current license unlocks a tier or a feature.
type AccessCheckRequest struct {
	Tier    string `json:"tier,omitempty" query:"tier" validate:"required_without=Feature,omitempty,tier"`
	Feature string `json:"feature,omitempty" query:"feature" validate:"required_without=Tier"`
}

// Local API responses that embed domain types

// LicenseStatusResponse is returned by the local status endpoint.
type LicenseStatusResponse struct {
	domain.ValidationStatus
	Features []domain.Feature `json:"features"`
	Limits   domain.TierLimits `json:"limits"`
}
