// Package scheduler triggers the reminder pass on a cron or interval
// schedule. At most one run is in flight; ticks that arrive while a run is
// still going are counted and skipped.
package scheduler
