// Package mapper implements C3: converting raw controller state into the
// 16-value channel set, including deadzone/expo/reverse, the button
// pipeline, and the arming state machine.
package mapper

import (
	"sync"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/input"
)

// Params are the tunables from configuration the mapper needs. Kept as a
// plain struct local to this package, rather than importing the config
// package directly, so the mapper stays independently testable.
type Params struct {
	ArmHoldMS        int64
	ArmThrottleMaxUS int64
	AutoDisarmS      int64
}

// Mapper is the sole owner of arming state, the active calibration record,
// the mode-cycle counter, and the runtime reverse set. It is safe for
// concurrent use: Update is called from the supervisor's Tick (driven by
// the Input activity), while Calibrate and SetReverse may be called from
// the control plane.
type Mapper struct {
	params Params

	mu          sync.Mutex
	calibration Calibration
	reverse     [4]bool // roll, pitch, throttle, yaw, indexed by input.AxisID

	arm            *armingMachine
	modeCycleIndex int
	lastModePressed bool
	lastCalibratePressed bool
}

func New(params Params, cal Calibration) *Mapper {
	return &Mapper{
		params:      params,
		calibration: cal,
		arm:         newArmingMachine(),
	}
}

// SetReverse flips the reverse flag for one of the four stick axes,
// applied atomically starting on the next Update call. This is what the
// control plane's "set-reverse" command and the configured reverse set
// both drive.
func (m *Mapper) SetReverse(axis input.AxisID, reverse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(axis) >= 0 && int(axis) < len(m.reverse) {
		m.reverse[axis] = reverse
	}
}

// Calibrate replaces the calibration center with the raw stick sample in
// snap, the effect of both the local calibrate button (rising edge) and a
// remote "calibrate" control-plane command.
func (m *Mapper) Calibrate(snap input.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration = m.calibration.CenteredOn(snap)
}

// ArmState reports the current arming state for lifecycle/observability
// purposes.
func (m *Mapper) ArmState() ArmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arm.state
}

// ClearEmergency drops the emergency latch back to Disarmed, the effect of
// a remote "emergency-clear" control-plane command. It is gated on exactly
// the precondition armingMachine.tick enforces for the local recovery path:
// the arm button must have been continuously released for a full second.
// Without that check a remote operator could clear the latch while the arm
// button is still physically held, defeating the interlock. Returns false
// if the precondition isn't met, leaving the latch untouched.
func (m *Mapper) ClearEmergency(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.arm.state != EmergencyDisarmed {
		return false
	}
	if m.arm.lastArmPressed || m.arm.releasedSince.IsZero() || now.Sub(m.arm.releasedSince) < time.Second {
		return false
	}
	m.arm.state = Disarmed
	m.arm.releasedSince = time.Time{}
	return true
}

// Update runs the full C3 pipeline for one tick and returns the resulting
// channel set. now is the monotonic clock; lastInputAt is the liveness
// clock's last-controller-event timestamp (used only for auto-disarm; the
// supervisor separately decides overall input staleness for failsafe).
func (m *Mapper) Update(snap input.Snapshot, now, lastInputAt time.Time) crsf.ChannelSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	cal := m.calibration
	var cs crsf.ChannelSet

	cs[crsf.ChannelRoll] = processStickAxis(snap.Axes[input.AxisRoll], cal.Center[input.AxisRoll], cal.Trim[input.AxisRoll], cal.DeadzoneStick, cal.Expo[input.AxisRoll], m.reverse[input.AxisRoll])
	cs[crsf.ChannelPitch] = processStickAxis(snap.Axes[input.AxisPitch], cal.Center[input.AxisPitch], cal.Trim[input.AxisPitch], cal.DeadzoneStick, cal.Expo[input.AxisPitch], m.reverse[input.AxisPitch])
	cs[crsf.ChannelYaw] = processStickAxis(snap.Axes[input.AxisYaw], cal.Center[input.AxisYaw], cal.Trim[input.AxisYaw], cal.DeadzoneStick, cal.Expo[input.AxisYaw], m.reverse[input.AxisYaw])
	cs[crsf.ChannelThrottle] = processThrottleAxis(snap.Axes[input.AxisThrottle], cal.Center[input.AxisThrottle], cal.Trim[input.AxisThrottle], cal.DeadzoneTrigger, cal.Expo[input.AxisThrottle], m.reverse[input.AxisThrottle])

	armPressed := snap.Pressed[input.ButtonArm]
	emergencyPressed := snap.Pressed[input.ButtonEmergency]
	state := m.arm.tick(armPressed, emergencyPressed, cs[crsf.ChannelThrottle], now, lastInputAt, m.params.ArmHoldMS, m.params.ArmThrottleMaxUS, m.params.AutoDisarmS)
	cs[crsf.ChannelArm] = ArmChannelValue(state)

	modePressed := snap.Pressed[input.ButtonModeCycle]
	if modePressed && !m.lastModePressed {
		m.modeCycleIndex = (m.modeCycleIndex + 1) % len(modeCycleValues)
	}
	m.lastModePressed = modePressed
	cs[crsf.ChannelMode] = modeCycleValues[m.modeCycleIndex]

	calibratePressed := snap.Pressed[input.ButtonCalibrate]
	if calibratePressed && !m.lastCalibratePressed {
		m.calibration = m.calibration.CenteredOn(snap)
	}
	m.lastCalibratePressed = calibratePressed

	for i, btn := range input.AuxButtons {
		channel := 6 + i
		cs[channel] = buttonValue(snap.Pressed[btn])
	}

	return cs
}

var modeCycleValues = [3]uint16{1000, 1500, 2000}

func buttonValue(pressed bool) uint16 {
	if pressed {
		return 2000
	}
	return 1000
}
