// Package device provides the Device Registry for the Reolink core.
//
// The registry is the catalogue of every camera, hub and hub channel the
// core manages, together with the per-device command set synthesised from
// the command catalog. It owns the parent/child invariants: a child always
// belongs to exactly one hub and is addressed with that hub's credentials
// plus its channel index.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌────────────────┐   ┌──────────────────┐   ┌─────────────┐  │
//	│  │   Registry     │──▶│   Repository     │   │ Validation  │  │
//	│  │ (registry.go)  │   │ (repository.go)  │   │             │  │
//	│  │ • device cache │   │ • devices table  │   │ • roles     │  │
//	│  │ • parent/child │   │ • commands table │   │ • logical ID│  │
//	│  └────────────────┘   └──────────────────┘   └─────────────┘  │
//	└──────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: a standalone camera, a hub (Home Hub or NVR), or a hub child
//   - Credentials: host, port, username, password and scheme of a device API
//   - Command: one info (readable state) or action (executable) parameter
//   - CommandSet: a device's commands in display order
//
// Commands are stored separately from devices because their values change
// on every refresh while device rows change rarely.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	hub := &device.Device{Name: "Home Hub", Role: device.RoleHub, Credentials: creds}
//	if err := registry.CreateDevice(ctx, hub); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The SQLite repositories rely on
// database/sql connection pooling.
package device
