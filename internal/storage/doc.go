// Package storage persists push definitions, engine triggers and the
// schedule audit log.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file (WAL, single writer)
//   - "memory": process-local maps, for tests and throwaway runs
package storage
