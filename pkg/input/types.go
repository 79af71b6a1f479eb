// Package input models the raw controller side of the bridge: the event
// stream a two-stick gamepad produces, and the snapshot the mapper reads.
// Concrete device discovery (evdev, hidraw, whatever the board exposes) is
// external to the core; this package defines the Source capability the
// core depends on, so tests can substitute an in-memory fake, plus one
// built-in Linux joystick reader (joystick.go).
package input

import "time"

type AxisID int

const (
	AxisRoll AxisID = iota
	AxisPitch
	AxisThrottle
	AxisYaw
	numAxes
)

type ButtonID int

const (
	ButtonArm ButtonID = iota
	ButtonEmergency
	ButtonModeCycle
	ButtonCalibrate
	ButtonAux0
	ButtonAux1
	ButtonAux2
	ButtonAux3
	ButtonAux4
	ButtonAux5
	ButtonAux6
	ButtonAux7
	ButtonAux8
	ButtonAux9
	numButtons
)

// AuxButtons is, in order, the button whose nominal 1000/2000 value drives
// channel 6, channel 7, ... channel 15.
var AuxButtons = [10]ButtonID{
	ButtonAux0, ButtonAux1, ButtonAux2, ButtonAux3, ButtonAux4,
	ButtonAux5, ButtonAux6, ButtonAux7, ButtonAux8, ButtonAux9,
}

type EventKind int

const (
	EventAxis EventKind = iota
	EventButton
	EventDisconnect
)

// Event is one item from a raw controller source: an axis sample, a button
// edge, or a disconnect notice. At is the monotonic time the device itself
// reported (or the time it was observed, if the device has no clock of its
// own).
type Event struct {
	Kind    EventKind
	Axis    AxisID
	Value   float64
	Button  ButtonID
	Pressed bool
	At      time.Time
}

// Snapshot is an immutable view of controller state: the mapper never
// mutates one in place, it always reads the latest value published by the
// input activity.
type Snapshot struct {
	Axes         [numAxes]float64
	Pressed      [numButtons]bool
	PressedSince [numButtons]time.Time // zero value is the "not pressed" sentinel
}

// Apply folds one event into a snapshot, returning a new value. A
// disconnect resets every axis and button to its zero state, the
// documented input-loss behavior that pushes the supervisor to failsafe.
func (s Snapshot) Apply(e Event) Snapshot {
	switch e.Kind {
	case EventAxis:
		v := e.Value
		if v < -1 {
			v = -1
		} else if v > 1 {
			v = 1
		}
		s.Axes[e.Axis] = v
	case EventButton:
		wasPressed := s.Pressed[e.Button]
		s.Pressed[e.Button] = e.Pressed
		if e.Pressed && !wasPressed {
			s.PressedSince[e.Button] = e.At
		} else if !e.Pressed {
			s.PressedSince[e.Button] = time.Time{}
		}
	case EventDisconnect:
		s = Snapshot{}
	}
	return s
}

// Source is the capability set a raw controller device must expose: a
// stream of events and a way to close it. The single polymorphism boundary
// in the core's input side.
type Source interface {
	Events() <-chan Event
	Close() error
}
