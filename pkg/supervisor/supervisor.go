// Package supervisor implements C5: the single writer of the channel set
// the TX activity transmits, the failsafe decision, and the liveness clock
// that decision is based on. It holds no domain logic of its own — the
// mapper computes channel values, the driver reports transport health —
// the supervisor only decides which of the two to trust on a given tick.
package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/input"
	"github.com/librescoot/fpv-bridge/pkg/mapper"
)

// DriverHealth is the subset of the serial driver's state the failsafe
// decision depends on. Implemented by *serialport.Driver; a narrow
// interface here so this package never imports serialport.
type DriverHealth interface {
	IsOpen() bool
}

// LifecycleSink receives failsafe enter/exit and arming-state change
// notifications without blocking the control path; the caller supplies one backed by pkg/sink.
type LifecycleSink interface {
	Lifecycle(kind, detail string, at time.Time)
}

type nopSink struct{}

func (nopSink) Lifecycle(string, string, time.Time) {}

// Reason names why a tick produced the failsafe set instead of the
// mapper's live output, for logging and the lifecycle sink.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonStaleInput
	ReasonDriverOffline
	ReasonEmergencyLatched
)

func (r Reason) String() string {
	switch r {
	case ReasonStaleInput:
		return "stale_input"
	case ReasonDriverOffline:
		return "driver_offline"
	case ReasonEmergencyLatched:
		return "emergency_latched"
	default:
		return "none"
	}
}

// Supervisor owns the single slot the TX activity reads every tick. The
// Input activity calls NoteInput as controller events land and Tick as
// each snapshot is produced; the TX activity calls Channels once per 4ms
// send-cadence tick, reading whatever Tick last published. Exactly one
// writer and one reader run at a time, but concurrently with each other,
// so the slot is an atomic pointer rather than a plain field guarded by a
// lock held across any blocking operation.
type Supervisor struct {
	mapper        *mapper.Mapper
	driver        DriverHealth
	sink          LifecycleSink
	failsafeAfter time.Duration

	lastInputAt atomic.Pointer[time.Time]
	cell        atomic.Pointer[crsf.ChannelSet]

	mu         sync.Mutex
	inFailsafe bool
	failReason Reason
}

func New(m *mapper.Mapper, driver DriverHealth, sink LifecycleSink, failsafeAfter time.Duration) *Supervisor {
	if sink == nil {
		sink = nopSink{}
	}
	s := &Supervisor{mapper: m, driver: driver, sink: sink, failsafeAfter: failsafeAfter}
	fs := crsf.FailsafeChannelSet()
	s.cell.Store(&fs)
	return s
}

// NoteInput records that a controller event was just observed, advancing
// the liveness clock the stale-input failsafe reason is judged against.
func (s *Supervisor) NoteInput(at time.Time) {
	s.lastInputAt.Store(&at)
}

func (s *Supervisor) lastInput() time.Time {
	if p := s.lastInputAt.Load(); p != nil {
		return *p
	}
	return time.Time{}
}

// Tick runs the mapper over the latest snapshot (unless failsafe
// preempts it) and publishes the result to the slot TX reads. Called by
// the Input activity whenever a new snapshot is available, and also on a
// timer so failsafe promotion happens even with no fresh input.
func (s *Supervisor) Tick(snap input.Snapshot, now time.Time) crsf.ChannelSet {
	reason := s.evaluate(now)
	prevArm := s.mapper.ArmState()

	var cs crsf.ChannelSet
	if reason != ReasonNone {
		cs = crsf.FailsafeChannelSet()
		// Still drive the arming machine so a latched emergency can only
		// clear through its own command path, never by falling through
		// an un-ticked mapper.
		_ = s.mapper.Update(snap, now, s.lastInput())
	} else {
		cs = s.mapper.Update(snap, now, s.lastInput())
	}

	s.cell.Store(&cs)
	s.transition(reason, now)
	if armState := s.mapper.ArmState(); armState != prevArm {
		s.sink.Lifecycle(armState.String(), "", now)
	}
	return cs
}

func (s *Supervisor) evaluate(now time.Time) Reason {
	if s.mapper.ArmState() == mapper.EmergencyDisarmed {
		return ReasonEmergencyLatched
	}
	if s.driver != nil && !s.driver.IsOpen() {
		return ReasonDriverOffline
	}
	last := s.lastInput()
	if last.IsZero() || now.Sub(last) >= s.failsafeAfter {
		return ReasonStaleInput
	}
	return ReasonNone
}

func (s *Supervisor) transition(reason Reason, at time.Time) {
	s.mu.Lock()
	was := s.inFailsafe
	prevReason := s.failReason
	s.inFailsafe = reason != ReasonNone
	s.failReason = reason
	s.mu.Unlock()

	switch {
	case !was && s.inFailsafe:
		s.sink.Lifecycle("failsafe_enter", reason.String(), at)
	case was && !s.inFailsafe:
		s.sink.Lifecycle("failsafe_exit", "", at)
	case was && s.inFailsafe && prevReason != reason:
		s.sink.Lifecycle("failsafe_reason_change", reason.String(), at)
	}
}

// Channels implements serialport.ChannelSource: the TX tick reads
// whatever Tick last published, performing no computation of its own so
// the send cadence is never blocked on mapper or failsafe logic.
func (s *Supervisor) Channels() crsf.ChannelSet {
	if p := s.cell.Load(); p != nil {
		return *p
	}
	return crsf.FailsafeChannelSet()
}

// InFailsafe reports whether the most recent tick produced the failsafe
// set, for observability.
func (s *Supervisor) InFailsafe() (bool, Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFailsafe, s.failReason
}
