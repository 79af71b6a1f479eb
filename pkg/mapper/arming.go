package mapper

import "time"

// ArmState is the mapper-owned arming state machine from spec.md 4.3. The
// mapper is the sole owner of this state; nothing outside this package
// transitions it directly.
type ArmState int

const (
	Disarmed ArmState = iota
	Arming
	Armed
	EmergencyDisarmed
)

func (s ArmState) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case EmergencyDisarmed:
		return "emergency_disarmed"
	default:
		return "unknown"
	}
}

// armingMachine tracks the extra timestamps the table in spec.md 4.3 needs
// beyond the state itself: when an Arming hold started, and when the arm
// button was last continuously released (to clear the emergency latch
// after a full second of release).
type armingMachine struct {
	state         ArmState
	heldSince     time.Time
	releasedSince time.Time

	lastArmPressed       bool
	lastEmergencyPressed bool
}

func newArmingMachine() *armingMachine {
	return &armingMachine{state: Disarmed}
}

// tick advances the state machine by one mapper update. armPressed and
// emergencyPressed are the current button levels; throttleUS is this
// tick's already-computed throttle channel value, used for the
// arm-throttle-max guard; now is the monotonic clock; lastInputAt is the
// liveness clock's last-controller-event timestamp, used for auto-disarm.
func (m *armingMachine) tick(armPressed, emergencyPressed bool, throttleUS uint16, now, lastInputAt time.Time, armHoldMS, armThrottleMaxUS int64, autoDisarmS int64) ArmState {
	armRisingEdge := armPressed && !m.lastArmPressed
	emergencyRisingEdge := emergencyPressed && !m.lastEmergencyPressed

	if !armPressed {
		if m.lastArmPressed {
			m.releasedSince = now
		} else if m.releasedSince.IsZero() {
			m.releasedSince = now
		}
	} else {
		m.releasedSince = time.Time{}
	}

	if emergencyRisingEdge {
		m.state = EmergencyDisarmed
	}

	switch m.state {
	case Disarmed:
		if armRisingEdge {
			if int64(throttleUS) < armThrottleMaxUS {
				m.state = Arming
				m.heldSince = now
			}
			// else: reject, stay Disarmed
		}

	case Arming:
		if !armPressed {
			m.state = Disarmed
		} else if now.Sub(m.heldSince) >= durationMS(armHoldMS) {
			m.state = Armed
		}

	case Armed:
		if !armPressed {
			m.state = Disarmed
		}

	case EmergencyDisarmed:
		if !armPressed && !m.releasedSince.IsZero() && now.Sub(m.releasedSince) >= time.Second {
			m.state = Disarmed
		}
	}

	if autoDisarmS > 0 && !lastInputAt.IsZero() && now.Sub(lastInputAt) >= durationS(autoDisarmS) {
		m.state = Disarmed
	}

	m.lastArmPressed = armPressed
	m.lastEmergencyPressed = emergencyPressed

	return m.state
}

func durationMS(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
func durationS(s int64) time.Duration   { return time.Duration(s) * time.Second }

// ArmChannelValue is 2000 iff state == Armed, else 1000.
func ArmChannelValue(s ArmState) uint16 {
	if s == Armed {
		return 2000
	}
	return 1000
}
