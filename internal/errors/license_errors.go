package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License sentinel errors. Local failures are absorbed by the validator into a
// FREE status; these values name the reason.
var (
	ErrLicenseNotActivated = errors.New("license not activated")
	ErrRecordTampered      = errors.New("activation record failed integrity check")
	ErrRecordCorrupt       = errors.New("activation record is corrupt")
	ErrHardwareMismatch    = errors.New("activation belongs to a different device")
	ErrGraceExpired        = errors.New("offline grace period expired")
	ErrInvalidLicenseKey   = errors.New("invalid license key")
	ErrRateLimited         = errors.New("rate limited")
	ErrNetworkError        = errors.New("network error")
	ErrActivationFailed    = errors.New("activation failed")
	ErrTierRequired        = errors.New("higher tier required")
	ErrUnknownFeature      = errors.New("unknown feature")
)

// RejectionError is a non-200 reply from the licensing server.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrActivationFailed.
func (e *RejectionError) Unwrap() error {
	return ErrActivationFailed
}

// NewRejectionError builds a RejectionError, defaulting the message.
func NewRejectionError(statusCode int, message string) *RejectionError {
	if message == "" {
		message = "Activation failed"
	}
	return &RejectionError{StatusCode: statusCode, Message: message}
}

// NetworkError is a transport failure talking to the licensing server.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "Network error: " + e.Err.Error()
}

// Unwrap matches both ErrNetworkError and the underlying cause.
func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetworkError, e.Err}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *NetworkError {
	return &NetworkError{Err: err}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// NewTierRequiredError is returned when the current license tier is below what a route needs.
func NewTierRequiredError(current, required, feature, traceID string) *ProblemDetails {
	detail := fmt.Sprintf("This feature requires %s tier or higher", required)
	problem := NewProblemDetails(
		http.StatusPaymentRequired,
		TypeTierRequired,
		"Upgrade Required",
		detail,
		fmt.Sprintf("/api/license#trace-%s", traceID),
	).WithExtension("trace_id", traceID).
		WithExtension("error_code", "TIER_REQUIRED").
		WithExtension("current_tier", current).
		WithExtension("required_tier", required)
	if feature != "" {
		problem.WithExtension("feature", feature)
	}
	return problem
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) *ProblemDetails {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeActivationRejected,
			"License Activation Failed",
			rejection.Message,
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "ACTIVATION_REJECTED").
			WithExtension("server_status", rejection.StatusCode)
	}

	switch {
	case errors.Is(err, ErrInvalidLicenseKey):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeInvalidLicenseKey,
			"Invalid License Key",
			"The provided license key is empty or malformed.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_LICENSE_KEY")

	case errors.Is(err, ErrRateLimited):
		return NewProblemDetails(
			http.StatusTooManyRequests,
			TypeRateLimit,
			"Too Many Requests",
			"Too many activation attempts. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RATE_LIMITED")

	case errors.Is(err, ErrNetworkError):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeNetwork,
			"Network Error",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NETWORK_ERROR")

	case errors.Is(err, ErrLicenseNotActivated):
		return NewProblemDetails(
			http.StatusPreconditionRequired,
			TypeLicenseNotActivated,
			"License Not Activated",
			"No license has been activated on this device.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_ACTIVATED")

	case errors.Is(err, ErrUnknownFeature):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"Unknown Feature",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "UNKNOWN_FEATURE")

	case errors.Is(err, ErrActivationFailed):
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeActivationRejected,
			"License Activation Failed",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "ACTIVATION_FAILED")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
