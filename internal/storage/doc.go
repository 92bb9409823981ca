// Package storage is the durable backing store for per-user pipeline state.
//
// The core services run fully in memory; when a Store is configured they
// write mutations through and hydrate from it at startup. The contract is a
// small per-user key-value API so any durable backend can serve it.
//
// Drivers:
//   - "file": dependency-free JSONL journal + snapshot
//   - "sqlite": single-file SQLite database (modernc.org/sqlite, WAL)
package storage
