// Package api implements the local HTTP API and WebSocket server for the
// myQ bridge.
//
// This package provides:
//   - refresh-token setup and bridge status
//   - pairing (list pairable cloud devices, pair, unpair)
//   - device commands (open/close, on/off)
//   - a WebSocket stream of device state changes
//   - an audit trail of operator actions
//   - Prometheus metrics at /metrics
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Every /api/v1 route except /health requires an HS256 bearer token
// carrying a role (viewer, operator, admin); see package auth. Tokens are
// minted with `myqbridge -issue-token`. WebSocket connections use
// single-use tickets so the token never appears in a URL. The
// refresh-token endpoint is rate limited per client IP.
//
// # Errors
//
// Errors are JSON {"status","code","message"}. Cloud failures map to 502,
// the myQ cooldown to 429 with Retry-After, and a missing refresh token
// to 409. Cloud error detail is logged, never returned.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
