// Package metrics tracks the counters that need to be observable from
// outside a connection: how many client connections are currently
// active, and how many cells have been masked in total.
package metrics

import "sync/atomic"

// Registry holds process-wide proxy counters. The zero value is ready
// to use. All operations are lock-free.
type Registry struct {
	activeConnections atomic.Int64
	maskedCellsTotal  atomic.Int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// ConnectionOpened increments the active connection count. Call once per
// accepted client connection.
func (r *Registry) ConnectionOpened() {
	r.activeConnections.Add(1)
}

// ConnectionClosed decrements the active connection count. Call exactly
// once per connection previously reported via ConnectionOpened.
func (r *Registry) ConnectionClosed() {
	r.activeConnections.Add(-1)
}

// ActiveConnections reports the current number of open connections.
func (r *Registry) ActiveConnections() int64 {
	return r.activeConnections.Load()
}

// AddMaskedCells adds n to the running total of masked cells. Implements
// anonymize.MaskedCellCounter.
func (r *Registry) AddMaskedCells(n int64) {
	r.maskedCellsTotal.Add(n)
}

// MaskedCellsTotal reports the cumulative count of masked cells across
// all connections since the registry was created.
func (r *Registry) MaskedCellsTotal() int64 {
	return r.maskedCellsTotal.Load()
}

// Stats is a point-in-time, JSON/YAML-serializable snapshot of Registry,
// suitable for exposing over a future management API without forcing
// callers to read the live atomics directly.
type Stats struct {
	ActiveConnections int64 `json:"active_connections" yaml:"active_connections"`
	MaskedCellsTotal  int64 `json:"masked_cells_total" yaml:"masked_cells_total"`
}

// Snapshot returns the current values of both counters as a plain struct.
func (r *Registry) Snapshot() Stats {
	return Stats{
		ActiveConnections: r.ActiveConnections(),
		MaskedCellsTotal:  r.MaskedCellsTotal(),
	}
}
