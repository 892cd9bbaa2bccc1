// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [RemoteStore]: Subscribes to, writes and deletes documents in a collection
//   - [Subscription]: A live snapshot stream returned by RemoteStore.Subscribe
//   - [Notifier]: Short user-facing notices about operation outcomes
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement these interfaces
// with concrete implementations (memory, file system, SQLite, Postgres, WebSocket).
package ports
