package api

import "aigem/pkg/contracts/domain"

// Licensing server responses

// ActivateResponse is the 200 body of POST /license/activate.
type ActivateResponse struct {
	ActivationKey string `json:"activation_key"`
	Tier          string `json:"tier"`
}

// HeartbeatResponse is the 200 body of POST /license/heartbeat.
type HeartbeatResponse struct {
	ActivationKey string `json:"activation_key"`
}

// ErrorResponse is the body of any non-200 licensing server reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Local API responses

// LicenseActivateResponse reports the outcome of a local activation.
type LicenseActivateResponse struct {
	Success bool        `json:"success"`
	Tier    domain.Tier `json:"tier"`
	Message string      `json:"message"`
}

// HeartbeatResultResponse reports the outcome of a heartbeat.
type HeartbeatResultResponse struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// AccessCheckResponse answers an access question for the current license.
type AccessCheckResponse struct {
	Allowed      bool        `json:"allowed"`
	CurrentTier  domain.Tier `json:"current_tier"`
	RequiredTier domain.Tier `json:"required_tier,omitempty"`
	Feature      string      `json:"feature,omitempty"`
}

// FingerprintResponse exposes the device fingerprint for support requests.
type FingerprintResponse struct {
	ID         string `json:"id"`
	Confidence string `json:"confidence"`
	Platform   string `json:"platform"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	State   string `json:"license_state"`
}
