// Package api provides the HTTP REST API and WebSocket feed for the race
// lights controller.
//
// Routes live under /api/v1. Everything except /health requires a bearer
// JWT when api.auth.enabled is set; the WebSocket takes the same token in
// its ?token= query parameter because browsers cannot set headers on an
// upgrade request.
//
// Errors are always
//
//	{"error": {"code": "conflict", "message": "..."}}
//
// WebSocket clients subscribe to the controller's event channels:
//
//	{"type": "subscribe", "channels": ["session", "sequence", "countdown"]}
//
// and then receive {"type": "event", "channel": ..., "payload": Event}.
//
// Lifecycle:
//
//	srv, err := api.New(deps)
//	err = srv.Start(ctx)
//	defer srv.Close()
package api
