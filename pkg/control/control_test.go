package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/librescoot/fpv-bridge/pkg/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	items [][]string
}

func (f *fakeSource) push(env Envelope) {
	b, _ := cbor.Marshal(env)
	f.mu.Lock()
	f.items = append(f.items, []string{"key", string(b)})
	f.mu.Unlock()
}

func (f *fakeSource) BRPop(timeout time.Duration, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, nil
}

type fakeMapper struct {
	mu                 sync.Mutex
	calibrated         bool
	emergencyCleared   bool
	emergencyClearable bool
	reverseAxis        input.AxisID
	reverseValue       bool
}

func (f *fakeMapper) Calibrate(input.Snapshot) {
	f.mu.Lock()
	f.calibrated = true
	f.mu.Unlock()
}
func (f *fakeMapper) SetReverse(axis input.AxisID, reverse bool) {
	f.mu.Lock()
	f.reverseAxis, f.reverseValue = axis, reverse
	f.mu.Unlock()
}
func (f *fakeMapper) ClearEmergency(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.emergencyClearable {
		return false
	}
	f.emergencyCleared = true
	return true
}

func TestDispatchCalibrate(t *testing.T) {
	src := &fakeSource{}
	m := &fakeMapper{}
	w := NewWatcher(src, "k", m, func() input.Snapshot { return input.Snapshot{} }, "", nil)

	src.push(Envelope{Action: ActionCalibrate})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.calibrated
	}, 150*time.Millisecond, 2*time.Millisecond)
}

func TestDispatchSetReverse(t *testing.T) {
	src := &fakeSource{}
	m := &fakeMapper{}
	w := NewWatcher(src, "k", m, func() input.Snapshot { return input.Snapshot{} }, "", nil)

	src.push(Envelope{Action: ActionSetReverse, Axis: int(input.AxisYaw), Reverse: true})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.reverseValue && m.reverseAxis == input.AxisYaw
	}, 150*time.Millisecond, 2*time.Millisecond)
}

func TestDispatchUnknownActionDoesNotPanic(t *testing.T) {
	w := &Watcher{}
	err := w.dispatch(Envelope{Action: "bogus"})
	assert.Error(t, err)
}

func TestDispatchEmergencyClearSucceedsWhenMapperAllows(t *testing.T) {
	m := &fakeMapper{emergencyClearable: true}
	w := NewWatcher(&fakeSource{}, "k", m, func() input.Snapshot { return input.Snapshot{} }, "", nil)
	err := w.dispatch(Envelope{Action: ActionEmergencyClear})
	assert.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.emergencyCleared)
}

func TestDispatchEmergencyClearRejectedWhileArmStillHeld(t *testing.T) {
	m := &fakeMapper{emergencyClearable: false}
	w := NewWatcher(&fakeSource{}, "k", m, func() input.Snapshot { return input.Snapshot{} }, "", nil)
	err := w.dispatch(Envelope{Action: ActionEmergencyClear})
	assert.Error(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.emergencyCleared)
}

func TestDispatchSetReverseRejectsOutOfRangeAxis(t *testing.T) {
	m := &fakeMapper{}
	w := NewWatcher(&fakeSource{}, "k", m, func() input.Snapshot { return input.Snapshot{} }, "", nil)
	err := w.dispatch(Envelope{Action: ActionSetReverse, Axis: 99})
	assert.Error(t, err)
}
