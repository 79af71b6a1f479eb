package input

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// joystickEventSize is the fixed size of a Linux joystick driver's
// struct js_event: __u32 time; __s16 value; __u8 type; __u8 number.
const joystickEventSize = 8

const (
	jsEventButton   = 0x01
	jsEventAxis     = 0x02
	jsEventInitFlag = 0x80 // synthetic event sent for each control's state at open
)

// AxisMapping and ButtonMapping translate a kernel joystick axis/button
// number into this package's AxisID/ButtonID space. Different controllers
// number their axes differently; the caller supplies the mapping for its
// hardware rather than this package guessing.
type AxisMapping map[uint8]AxisID
type ButtonMapping map[uint8]ButtonID

// JoystickSource reads raw events from a Linux joystick device node
// (/dev/input/jsN) using the kernel's classic joystick API. It is the
// bridge's one built-in Source implementation; anything that needs
// evdev's richer (and considerably more complex) event model is expected
// to implement Source itself and is out of scope here.
type JoystickSource struct {
	f       *os.File
	axes    AxisMapping
	buttons ButtonMapping
	events  chan Event
	done    chan struct{}
}

// OpenJoystick opens path (typically /dev/input/js0) and starts the
// background reader. Axis values arrive from the kernel as int16 in
// [-32767, 32767]; they are rescaled to this package's [-1, 1] range.
func OpenJoystick(path string, axes AxisMapping, buttons ButtonMapping) (*JoystickSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening joystick device %s: %w", path, err)
	}
	s := &JoystickSource{
		f:       f,
		axes:    axes,
		buttons: buttons,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *JoystickSource) run() {
	defer close(s.events)
	buf := make([]byte, joystickEventSize)
	for {
		n, err := s.f.Read(buf)
		if err != nil || n != joystickEventSize {
			select {
			case s.events <- Event{Kind: EventDisconnect, At: time.Now()}:
			default:
			}
			return
		}

		typ := buf[6] &^ jsEventInitFlag
		number := buf[7]
		value := int16(binary.LittleEndian.Uint16(buf[4:6]))
		now := time.Now()

		switch typ {
		case jsEventAxis:
			axis, ok := s.axes[number]
			if !ok {
				continue
			}
			s.send(Event{Kind: EventAxis, Axis: axis, Value: float64(value) / 32767.0, At: now})
		case jsEventButton:
			btn, ok := s.buttons[number]
			if !ok {
				continue
			}
			s.send(Event{Kind: EventButton, Button: btn, Pressed: value != 0, At: now})
		}
	}
}

func (s *JoystickSource) send(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func (s *JoystickSource) Events() <-chan Event { return s.events }

func (s *JoystickSource) Close() error {
	close(s.done)
	return s.f.Close()
}
