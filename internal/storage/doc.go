// Package storage is the relational card store read by the reminder engine.
//
// It supports two drivers behind the same sqlx queries:
//   - sqlite (modernc.org/sqlite), schema via built-in versioned migrations
//   - postgres (lib/pq), schema via golang-migrate and embedded SQL files
//
// Timestamps are stored as unix milliseconds in both dialects.
package storage
