package input

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJSEvent(value int16, typ, number byte) []byte {
	b := make([]byte, joystickEventSize)
	binary.LittleEndian.PutUint32(b[0:4], 0) // timestamp unused by this package
	binary.LittleEndian.PutUint16(b[4:6], uint16(value))
	b[6] = typ
	b[7] = number
	return b
}

func TestJoystickSourceTranslatesAxisAndButtonEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js0")
	var data []byte
	data = append(data, encodeJSEvent(16383, jsEventAxis|jsEventInitFlag, 0)...)  // half-deflected roll
	data = append(data, encodeJSEvent(1, jsEventButton|jsEventInitFlag, 1)...)    // arm button pressed
	require.NoError(t, os.WriteFile(path, data, 0o644))

	axes := AxisMapping{0: AxisRoll}
	buttons := ButtonMapping{1: ButtonArm}
	src, err := OpenJoystick(path, axes, buttons)
	require.NoError(t, err)
	defer src.Close()

	var got []Event
	deadline := time.After(time.Second)
collect:
	for {
		select {
		case e, ok := <-src.Events():
			if !ok {
				break collect
			}
			got = append(got, e)
			if e.Kind == EventDisconnect {
				break collect
			}
		case <-deadline:
			t.Fatal("timed out reading joystick events")
		}
	}

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, EventAxis, got[0].Kind)
	assert.Equal(t, AxisRoll, got[0].Axis)
	assert.InDelta(t, 0.5, got[0].Value, 0.01)

	assert.Equal(t, EventButton, got[1].Kind)
	assert.Equal(t, ButtonArm, got[1].Button)
	assert.True(t, got[1].Pressed)
}

func TestJoystickSourceIgnoresUnmappedControls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js0")
	data := encodeJSEvent(100, jsEventAxis, 7) // axis 7 has no mapping
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := OpenJoystick(path, AxisMapping{}, ButtonMapping{})
	require.NoError(t, err)
	defer src.Close()

	e := <-src.Events() // only the synthetic EOF-disconnect should surface
	assert.Equal(t, EventDisconnect, e.Kind)
}
