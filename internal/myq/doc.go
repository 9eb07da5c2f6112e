// Package myq is the myQ cloud API client and per-device poller.
//
// It owns the OAuth2 refresh-token lifecycle, authenticates every cloud
// request (with a single re-auth retry on 401), backs off for 90 minutes
// after the cloud answers 429, and reconciles polled device state into
// hub capability values.
//
// # Components
//
//   - TokenManager: refresh-token state, expiry-driven and coalesced refresh
//   - RateLimiter: the cooldown window after a 429
//   - Transport: one HTTPS request with a 30 second ceiling and status classification
//   - Client: accounts, devices and door/lamp commands
//   - Poller: per paired device, 30 s default polling and 5 s active polling after a command
//
// # Limitations
//
// Only the first account returned by the accounts endpoint is used.
// The rate-limit window lives in memory: a restart during a cooldown
// resumes calling the cloud early.
//
// # Usage
//
//	client, err := myq.NewClient(myq.ClientOptions{Store: store, Logger: log})
//	if err != nil {
//	    return err
//	}
//	if err := client.Init(ctx); err != nil {
//	    return err
//	}
//	devices, err := client.GetDevices(ctx)
package myq
