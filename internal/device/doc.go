// Package device is the registry of paired myQ devices.
//
// A paired device is the host-side record created when a user adds a
// myQ door, gate or lamp: its serial number and account id (the
// immutable pairing identity), the kind chosen at pairing and a display
// name. Cloud state is never stored here; pollers fetch it on demand.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                Device Registry                │
//	│                                               │
//	│  ┌────────────────┐    ┌──────────────────┐   │
//	│  │    Registry    │───▶│    Repository    │   │
//	│  │ (registry.go)  │    │ (repository.go)  │   │
//	│  │ • cache        │    │ • myq_devices    │   │
//	│  │ • thread safety│    │   table (SQLite) │   │
//	│  └────────────────┘    └──────────────────┘   │
//	└───────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	devices := registry.ListDevices()
package device
