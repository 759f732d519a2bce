// Package storage persists classified samples and the monitored site catalogue.
//
// The durable backends share the monitor_sites and monitor_samples layout:
// MySQL through gorm, SQLite through modernc.org/sqlite, PostgreSQL through a
// pgx pool, and MongoDB as two collections. A
// Fanout writes every sample to all configured backends, each behind its own
// circuit breaker, so a backend that keeps failing stops being attempted until
// its cool-down passes. Write errors are reported to the caller but are never
// retried.
package storage
