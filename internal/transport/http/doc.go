// Package http implements the local license API served to the desktop UI.
// Handlers stay thin: they decode and validate the request, call the license
// validator and render the result with chi/render.
//
// # Routes
//
//	GET    /api/license/status             validation status, unlocked features and quotas
//	POST   /api/license/activate           {"license_key": "..."}
//	POST   /api/license/heartbeat          refresh the activation online
//	DELETE /api/license                    remove the activation record
//	GET    /api/license/access             ?tier=PRO or ?feature=notes
//	GET    /api/license/features/{feature} 402 unless the current tier unlocks it
//	GET    /api/license/fingerprint        device ID for support requests
//	GET    /healthz, /api/version
//
// # Error Handling
//
// Failures are RFC 7807 problem documents:
//
//	{
//	    "type": "/errors/license/tier-required",
//	    "title": "Upgrade Required",
//	    "status": 402,
//	    "detail": "This feature requires PRO tier or higher",
//	    "current_tier": "FREE",
//	    "required_tier": "PRO"
//	}
//
// A failed heartbeat is not an error: it is reported with 200 and outcome "failed".
package http
