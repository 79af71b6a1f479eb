package mapper

import "github.com/librescoot/fpv-bridge/pkg/input"

// Calibration is immutable after construction; the mapper replaces it
// atomically on a "calibrate" command rather than mutating it in place.
type Calibration struct {
	Center        [4]float64 // per input.AxisID, raw-stick units
	Trim          [4]float64
	Expo          [4]float64 // per input.AxisID (roll, pitch, throttle, yaw), each in [0,1]
	DeadzoneStick float64    // [0, 0.25]
	DeadzoneTrigger float64  // [0, 0.25]
}

// CenteredOn returns a copy of c with Center replaced by the raw axis
// values in snap — the effect of both the local calibrate button and the
// remote "calibrate" control-plane command.
func (c Calibration) CenteredOn(snap input.Snapshot) Calibration {
	out := c
	out.Center[input.AxisRoll] = snap.Axes[input.AxisRoll]
	out.Center[input.AxisPitch] = snap.Axes[input.AxisPitch]
	out.Center[input.AxisYaw] = snap.Axes[input.AxisYaw]
	out.Center[input.AxisThrottle] = snap.Axes[input.AxisThrottle]
	return out
}
