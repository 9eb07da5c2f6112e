// Package myqbridge connects paired myQ devices to Gray Logic Core.
//
// The bridge owns one myq.Poller per paired device and acts as each
// poller's host: capability writes and availability changes become
// retained state messages on MQTT.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌───────────┐
//	│   Gray Logic    │   MQTT   │   myQ Bridge    │  HTTPS   │ myQ cloud │
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│           │
//	└─────────────────┘          └─────────────────┘          └───────────┘
//
// # Topics
//
//	graylogic/command/myq/{serial}       Core -> bridge, {"id","command"}
//	graylogic/ack/myq/{serial}           accepted | failed + error code
//	graylogic/state/myq/{serial}         retained device state
//	graylogic/request/myq/{request_id}   read_state | discover | status
//	graylogic/response/myq/{request_id}
//	graylogic/discovery/myq              pairable devices per kind
//	graylogic/health/myq                 retained bridge health
//
// Command failures are acknowledged with a generic message; the cause is
// logged. The error code tells Core whether retrying makes sense
// (RATE_LIMITED, NOT_CONFIGURED, AUTH_FAILED, ...).
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package myqbridge
