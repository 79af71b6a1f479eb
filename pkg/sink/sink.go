// Package sink implements C7: the non-blocking fanout of telemetry and
// lifecycle events to the JSONL log and the Redis control plane. Nothing
// on the control path (Input/TX/RX/Control activities) ever waits on a
// sink; a slow or dead consumer drops its own events and counts them.
package sink

import (
	"time"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/metrics"
)

// LifecycleRecord is one state-transition event: driver online/offline,
// failsafe enter/exit, arming transitions.
type LifecycleRecord struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// TelemetryEnvelope pairs a decoded telemetry record with the time it was
// received, since crsf.TelemetryRecord itself carries no timestamp.
type TelemetryEnvelope struct {
	At     time.Time             `json:"at"`
	Record crsf.TelemetryRecord `json:"record"`
}

// Sink receives events fanned out from the core. Every method must return
// without blocking on I/O; implementations that need to block (file
// writes, network publishes) do so on an internal buffered queue and drop
// on overflow.
type Sink interface {
	Telemetry(TelemetryEnvelope)
	Lifecycle(kind, detail string, at time.Time)
	Counters(snap metrics.Snapshot, at time.Time)
}

// Fanout broadcasts every call to each member sink. A panic or slow
// member never blocks the others since each Sink implementation owns its
// own non-blocking buffering.
type Fanout struct {
	members []Sink
}

func NewFanout(members ...Sink) *Fanout {
	return &Fanout{members: members}
}

func (f *Fanout) Telemetry(e TelemetryEnvelope) {
	for _, m := range f.members {
		m.Telemetry(e)
	}
}

func (f *Fanout) Lifecycle(kind, detail string, at time.Time) {
	for _, m := range f.members {
		m.Lifecycle(kind, detail, at)
	}
}

func (f *Fanout) Counters(snap metrics.Snapshot, at time.Time) {
	for _, m := range f.members {
		m.Counters(snap, at)
	}
}
