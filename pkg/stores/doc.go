// Package stores persists run history in SQLite.
//
// The schema is applied with golang-migrate from embedded migrations and
// holds four tables: runs, element_state (the latest result per reconciler
// name), events and audit. SQLiteStore implements engine.RunRecorder, so a
// driver configured with it records every run, and EventSubscriber turns
// telemetry events into rows of the events table.
//
// File databases use WAL mode. MemoryPath opens a private in-memory database
// limited to a single connection.
package stores
