// Package metrics centralizes the counters spec.md 7 names for external
// observability, replacing the scattered global counters an ad hoc
// translation of this system would reach for.
package metrics

import "sync/atomic"

// Counters is created by cmd/fpv-bridge and shared with the serial driver,
// which increments its fields; the periodic counters publisher only reads
// snapshots of it. No control decision is read from it.
type Counters struct {
	TxFrames        atomic.Uint64
	TxCoalesced     atomic.Uint64
	TxErrors        atomic.Uint64
	RxBytes         atomic.Uint64
	RxFrames        atomic.Uint64
	RxCRCErrors     atomic.Uint64
	RxResyncs       atomic.Uint64
	TelemetryDropped atomic.Uint64
}

// Snapshot is a read-only, instantaneous copy suitable for publishing.
type Snapshot struct {
	TxFrames         uint64
	TxCoalesced      uint64
	TxErrors         uint64
	RxBytes          uint64
	RxFrames         uint64
	RxCRCErrors      uint64
	RxResyncs        uint64
	TelemetryDropped uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TxFrames:         c.TxFrames.Load(),
		TxCoalesced:      c.TxCoalesced.Load(),
		TxErrors:         c.TxErrors.Load(),
		RxBytes:          c.RxBytes.Load(),
		RxFrames:         c.RxFrames.Load(),
		RxCRCErrors:      c.RxCRCErrors.Load(),
		RxResyncs:        c.RxResyncs.Load(),
		TelemetryDropped: c.TelemetryDropped.Load(),
	}
}
