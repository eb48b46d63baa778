// Package config provides configuration management for the license core.
//
// # Configuration Sources
//
// Configuration is assembled in the following order, later sources winning:
//
//	1. Built-in defaults (Default)
//	2. YAML file (~/.aigem2/config.yaml or $AIGEM2_CONFIG)
//	3. Environment variables with the AIGEM2_ prefix
//
// # Environment Variables
//
//	AIGEM2_LICENSE_API_BASE_URL=https://aigem2.vercel.app/api
//	AIGEM2_LICENSE_ACTIVATION_TIMEOUT=10s
//	AIGEM2_LICENSE_GRACE_PERIOD_DAYS=30
//	AIGEM2_LICENSE_STORAGE_FILE=/tmp/record.dat
//	AIGEM2_SERVER_PORT=8765
//	AIGEM2_LOGGING_LEVEL=debug
//
// AIGEM2_API_URL is still honored as an alias of the licensing server address.
//
// # Durations
//
// Duration fields accept Go duration strings ("5s", "168h") in both sources.
package config
