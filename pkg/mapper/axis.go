package mapper

import (
	"math"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
)

// applyDeadzone implements the scaled deadzone from spec: inside |x| < d
// the output is exactly 0; outside, the transition is smooth rather than a
// jump, so a tiny nudge past the deadzone boundary produces a tiny output.
func applyDeadzone(x, d float64) float64 {
	if d <= 0 {
		return x
	}
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	ax := math.Abs(x)
	if ax < d {
		return 0
	}
	if d >= 1 {
		return 0
	}
	return sign * (ax - d) / (1 - d)
}

// applyExpo implements y = sign(x) * |x|^(1+k).
func applyExpo(x, k float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	return sign * math.Pow(math.Abs(x), 1+k)
}

// processStickAxis runs the full pipeline for a bipolar axis (roll, pitch,
// yaw): center, deadzone, expo, map [-1,1] to [1000,2000]us, optional
// mirror about 1500, clamp after every stage.
func processStickAxis(raw, center, trim, deadzone, expo float64, reverse bool) uint16 {
	x := clampUnit(raw-center-trim, -1, 1)
	x = clampUnit(applyDeadzone(x, deadzone), -1, 1)
	x = clampUnit(applyExpo(x, expo), -1, 1)
	us := crsf.ChannelCenterUS + x*500
	result := clampUS(us)
	if reverse {
		result = mirrorUS(result)
	}
	return result
}

// processThrottleAxis runs the pipeline for the unipolar throttle axis:
// domain is [0,1] rather than [-1,1], mapped to [1000,2000]us.
func processThrottleAxis(raw, center, trim, deadzone, expo float64, reverse bool) uint16 {
	x := clampUnit(raw-center-trim, 0, 1)
	x = clampUnit(applyDeadzone(x, deadzone), 0, 1)
	x = clampUnit(applyExpo(x, expo), 0, 1)
	us := 1000.0 + x*1000
	result := clampUS(us)
	if reverse {
		result = mirrorUS(result)
	}
	return result
}

func clampUnit(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clampUS(us float64) uint16 {
	if us < 1000 {
		return 1000
	}
	if us > 2000 {
		return 2000
	}
	return uint16(math.Round(us))
}

func mirrorUS(us uint16) uint16 {
	return clampUS(3000 - float64(us))
}
