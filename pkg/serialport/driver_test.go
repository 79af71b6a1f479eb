package serialport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory Port: writes accumulate in a buffer, reads are
// served from a channel of chunks fed by the test.
type fakePort struct {
	mu          sync.Mutex
	writes      [][]byte
	chunks      chan []byte
	closed      bool
	failOn      int // write() call index (1-based) that should return an error; 0 disables
	writeN      int
	readTimeout time.Duration
}

func newFakePort() *fakePort {
	return &fakePort{chunks: make(chan []byte, 64), readTimeout: 4 * time.Millisecond}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeN++
	if p.failOn != 0 && p.writeN == p.failOn {
		return 0, io.ErrClosedPipe
	}
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	return len(b), nil
}

// Read mirrors go.bug.st/serial's read-timeout behavior: it returns (0,
// nil) once the configured timeout elapses with nothing to read, rather
// than blocking forever, so the driver's read loop gets a chance to
// notice context cancellation between chunks.
func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()

	select {
	case chunk, ok := <-p.chunks:
		if !ok {
			return 0, io.EOF
		}
		n := copy(buf, chunk)
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.chunks)
	}
	return nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	p.readTimeout = d
	p.mu.Unlock()
	return nil
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

type fixedSource struct{ cs crsf.ChannelSet }

func (f fixedSource) Channels() crsf.ChannelSet { return f.cs }

func testConfig(path string) Config {
	return Config{
		Path:              path,
		WriteTimeout:      50 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		ReadChunkBytes:    64,
		PacketPeriod:      4 * time.Millisecond,
		StaleWindow:       0, // disabled for deterministic tests
	}
}

func TestDriverSendsFramesAtCadence(t *testing.T) {
	port := newFakePort()
	cs := crsf.NeutralChannelSet()
	d := New(testConfig("fake"), fixedSource{cs: cs}, &metrics.Counters{}, nil, nil)
	d.open = func(string) (Port, error) { return port, nil }

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	deadline := time.After(500 * time.Millisecond)
	for port.writeCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for frames")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	require.GreaterOrEqual(t, port.writeCount(), 3)
	want := crsf.EncodeRCChannels(cs)
	assert.True(t, bytes.Equal(want, port.writes[0]))
}

func TestDriverDecodesInboundFrames(t *testing.T) {
	port := newFakePort()
	var got []crsf.TelemetryRecord
	var mu sync.Mutex
	d := New(testConfig("fake"), fixedSource{cs: crsf.NeutralChannelSet()}, &metrics.Counters{}, func(r crsf.TelemetryRecord) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}, nil)
	d.open = func(string) (Port, error) { return port, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	frame := buildLinkStatsFrame()
	port.chunks <- frame

	deadline := time.After(500 * time.Millisecond)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for telemetry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDriverReconnectsAfterWriteError(t *testing.T) {
	port1 := newFakePort()
	port1.failOn = 1

	var opens int
	var mu sync.Mutex
	d := New(testConfig("fake"), fixedSource{cs: crsf.NeutralChannelSet()}, &metrics.Counters{}, nil, nil)
	port2 := newFakePort()
	d.open = func(string) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return port1, nil
		}
		return port2, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	deadline := time.After(1 * time.Second)
	for {
		if port2.writeCount() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("driver never reconnected and wrote through the second port")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func buildLinkStatsFrame() []byte {
	payload := make([]byte, 10)
	payload[0] = 80 // uplink RSSI ant1
	f := append([]byte{0xC8, byte(len(payload) + 2), 0x14}, payload...)
	f = append(f, crcOf(f[2:]))
	return f
}

func crcOf(b []byte) byte {
	var crc byte
	for _, by := range b {
		crc ^= by
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0xD5
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
