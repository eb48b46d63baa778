package config

import "time"

// Application constants
const (
	AppName = "AIGEM2"

	// AppDirName is the per-user application directory under the home directory.
	AppDirName = ".aigem2"

	// DefaultAPIBaseURL is the production licensing server.
	DefaultAPIBaseURL = "https://aigem2.vercel.app/api"

	// Licensing server endpoints relative to the API base URL
	ActivateEndpoint  = "/license/activate"
	HeartbeatEndpoint = "/license/heartbeat"

	DefaultActivationTimeout = 10 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultHeartbeatInterval = 7 * 24 * time.Hour
	DefaultGracePeriodDays   = 30

	// Local API paths
	LicenseAPIPath  = "/api/license"
	FeatureAPIPath  = "/api/features"
	HealthEndpoint  = "/api/health"
	MetricsEndpoint = "/metrics"
)
