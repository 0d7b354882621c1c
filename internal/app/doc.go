// Package app composes the oracle's pieces into a running application.
//
// # Architecture Role
//
// The app package sits above the core layers (platform, storage, services)
// and wires them together. It is NOT a business logic layer - price
// semantics belong in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── audit/              # Ring-buffered ingest audit trail
//	├── domain/
//	│   └── price/          # Price records and asset indexes (pure data)
//	├── events/             # In-process price update bus
//	├── httpapi/            # Public HTTP API, websocket hub, routing
//	├── metrics/            # Prometheus collectors and HTTP instrumentation
//	├── opsapi/             # Operational plane (health, status, audit, sweep)
//	├── services/
//	│   ├── ingest/         # Batch validation and commit
//	│   ├── rates/          # Read-side queries and pair conversion
//	│   └── watchdog/       # Scheduled staleness sweeps
//	├── storage/            # Store interfaces + memory, postgres, redis
//	└── system/             # Service lifecycle manager and HTTP servers
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing the ingest, rates, and watchdog services with their stores
//   - Opening the configured storage backend and running migrations
//   - Exposing the public and operational HTTP planes
//   - Managing application-level concerns (auth, audit, metrics, shutdown)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/oracled/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (price semantics)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces only)
//	      │
//	      ├──► internal/app/storage/ (backends)
//	      │
//	      └──► internal/platform/ (drivers, migrations)
//
// # Example: Adding a New Operation
//
// When adding a new read operation (e.g., a TWAP query):
//
//  1. Extend the store interface in internal/app/storage/interfaces.go
//  2. Implement it in storage/memory/, storage/postgres/, and storage/redis/
//  3. Add the operation to internal/app/services/rates/service.go
//  4. Route it in internal/app/httpapi/handler.go
package app
