// Package app wires the license core into a runnable local service.
//
// Construction order is configuration, logging, telemetry, the platform and
// fingerprinter, the activation store, the licensing client, the validator,
// the status hub and finally the chi router. New builds all of it without
// starting goroutines; Run serves the API and drives the heartbeat scheduler
// until its context ends, then shuts down the server, the hub and the
// telemetry providers.
//
//	a, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return a.RunUntilSignal()
//
// Validator status changes invalidate the license gate cache and are pushed to
// websocket clients on /ws.
package app
