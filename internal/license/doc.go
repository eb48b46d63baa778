// Package license binds a purchased entitlement to this device and checks it
// offline.
//
// # Components
//
//	- ActivationStore: the on-disk activation record, obfuscated with the
//	  device key and protected by an HMAC tag
//	- Client: the licensing server API (activate, heartbeat)
//	- Validator: activation, offline validation with a grace period, heartbeat
//	  refresh and deactivation
//	- HeartbeatScheduler: periodic heartbeats for long running processes
//
// # Validation
//
// Validate never touches the network. It reads the record, decodes the
// activation key without verifying its signature and compares the bound
// hardware id with the current device fingerprint. A key whose last heartbeat
// is more than the grace period (30 whole days by default) in the past is
// reported as GRACE_EXPIRED and downgraded to FREE until the next successful
// heartbeat. Missing, edited, foreign or undecodable records all resolve to
// UNACTIVATED at the FREE tier.
//
// # Record format
//
//	base64(token XOR K) "::" hex(HMAC-SHA256(K, base64 part))
//
// where K is SHA-256 of the device secret. The XOR layer only keeps the token
// out of plain sight; the tag is what detects edits and copied records.
//
// # Observability
//
// Activation and heartbeat run inside OpenTelemetry spans and update the
// LicenseMetrics instruments. Logs carry the masked license key and a short
// hash of it, never the key itself.
package license
