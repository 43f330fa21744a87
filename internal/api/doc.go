// Package api implements the HTTP and WebSocket surface of the automation
// engine.
//
// This package provides:
//   - The command surface the mobile client uses: /execute, /stop, /status,
//     /actions, /devices, /check_game_state and the /debug_* diagnostics
//   - /api/v1 routes for run history, sequences, catalog reload and the overlay
//   - A WebSocket hub relaying run.* and overlay.changed events
//   - Optional HS256 bearer auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Response shapes
//
// The root routes keep the {success, message, error} bodies the mobile client
// already parses. The /api/v1 routes return resources directly and errors as
// {"error": {"code", "message"}}.
//
// # Graceful Degradation
//
// Device routes answer 503 when no device backend is configured and the
// overlay routes answer 503 without a controller. Run and catalog routes
// always work.
package api
