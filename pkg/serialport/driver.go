// Package serialport implements C4: owning the serial handle, driving the
// 250Hz send cadence, parsing the inbound byte stream, and reconnecting on
// failure. Reads and writes are independent concurrent activities sharing
// only the open/closed status and the last-success timestamps.
package serialport

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/metrics"
)

// BaudRate is fixed by the ExpressLRS CRSF convention this bridge targets.
// go.bug.st/serial is used rather than the corpus's older tarm/serial
// binding because it accepts this non-standard rate and exposes a read
// timeout, both required here.
const BaudRate = 420000

// Status is the driver's current connection state: always exactly one of
// these three.
type Status int

const (
	Closed Status = iota
	Open
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Port is the capability set the driver needs from a serial handle — the
// single polymorphism boundary on the transport side, so tests can
// substitute an in-memory fake instead of a real device node.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// OpenFunc abstracts port construction for tests.
type OpenFunc func(path string) (Port, error)

func OpenRealPort(path string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// LifecycleEvent mirrors spec.md 7's lifecycle event kinds the driver can
// emit on its own (online/offline); the supervisor emits the rest.
type LifecycleEvent struct {
	Kind   string
	Detail string
	At     time.Time
}

// ChannelSource is read by the TX activity every tick; the supervisor is
// the only implementation in production.
type ChannelSource interface {
	Channels() crsf.ChannelSet
}

// Config bundles the driver's tunables, all sourced from config.Config by
// the caller so this package stays independent of it.
type Config struct {
	Path               string
	WriteTimeout       time.Duration
	ReconnectInterval  time.Duration
	ReadChunkBytes     int
	PacketPeriod       time.Duration
	StaleWindow        time.Duration // 10ms: missing this promotes the driver offline even without an I/O error
}

// Driver owns the serial handle and the TX/RX activities.
type Driver struct {
	cfg     Config
	open    OpenFunc
	source  ChannelSource
	counters *metrics.Counters

	onTelemetry func(crsf.TelemetryRecord)
	onLifecycle func(LifecycleEvent)

	mu     sync.Mutex
	status Status
	port   Port

	lastTxSuccess atomic.Pointer[time.Time]
	lastRxSuccess atomic.Pointer[time.Time]

	writing atomic.Bool // true while a write is in flight, for tick coalescing
}

func New(cfg Config, source ChannelSource, counters *metrics.Counters, onTelemetry func(crsf.TelemetryRecord), onLifecycle func(LifecycleEvent)) *Driver {
	return &Driver{
		cfg:         cfg,
		open:        OpenRealPort,
		source:      source,
		counters:    counters,
		onTelemetry: onTelemetry,
		onLifecycle: onLifecycle,
		status:      Closed,
	}
}

// Status reports the driver's current connection state.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// IsOpen reports whether the port is currently connected, the signal the
// supervisor's failsafe decision reads.
func (d *Driver) IsOpen() bool {
	return d.Status() == Open
}

// LastTxAt and LastRxAt back the supervisor's liveness checks on the
// serial side (driver health); a zero time.Time means "never".
func (d *Driver) LastTxAt() time.Time {
	if p := d.lastTxSuccess.Load(); p != nil {
		return *p
	}
	return time.Time{}
}

// staleSince reports whether prev (the last successful TX timestamp as of
// the start of the current tick) is already older than StaleWindow,
// meaning this tick's send or coalesce has pushed the cadence past its
// 10ms budget. A zero prev (never sent) or a disabled window never counts
// as stale.
func (d *Driver) staleSince(prev time.Time) bool {
	if d.cfg.StaleWindow <= 0 || prev.IsZero() {
		return false
	}
	return time.Since(prev) > d.cfg.StaleWindow
}

func (d *Driver) LastRxAt() time.Time {
	if p := d.lastRxSuccess.Load(); p != nil {
		return *p
	}
	return time.Time{}
}

// Run drives the connect/reconnect loop and both activities until ctx is
// canceled. On cancellation the TX activity stops without sending a
// further frame and the port is closed.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		port, err := d.open(d.cfg.Path)
		if err != nil {
			d.setStatus(Reconnecting, fmt.Sprintf("open failed: %v", err))
			if !sleepOrDone(ctx, d.cfg.ReconnectInterval) {
				return
			}
			continue
		}
		if err := port.SetReadTimeout(d.cfg.PacketPeriod); err != nil {
			log.Printf("serialport: SetReadTimeout: %v", err)
		}

		d.mu.Lock()
		d.port = port
		d.mu.Unlock()
		d.setStatus(Open, "")

		d.runActivities(ctx, port)

		d.mu.Lock()
		d.port = nil
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
		d.setStatus(Reconnecting, "serial link failed")
		if !sleepOrDone(ctx, d.cfg.ReconnectInterval) {
			return
		}
	}
}

// runActivities blocks until either the port fails or ctx is done.
func (d *Driver) runActivities(ctx context.Context, port Port) {
	activityCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.txLoop(activityCtx, port, cancel)
	}()
	go func() {
		defer wg.Done()
		d.rxLoop(activityCtx, port, cancel)
	}()
	wg.Wait()
	_ = port.Close()
}

func (d *Driver) txLoop(ctx context.Context, port Port, fail func()) {
	ticker := time.NewTicker(d.cfg.PacketPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := d.LastTxAt()

			if d.writing.Load() {
				d.counters.TxCoalesced.Add(1)
				if d.staleSince(prev) {
					log.Printf("serialport: tx cadence exceeded %s, forcing reconnect", d.cfg.StaleWindow)
					fail()
					return
				}
				continue
			}

			d.writing.Store(true)
			ok := d.sendOnce(port)
			d.writing.Store(false)
			if !ok {
				fail()
				return
			}
			if d.staleSince(prev) {
				log.Printf("serialport: tx cadence exceeded %s, forcing reconnect", d.cfg.StaleWindow)
				fail()
				return
			}
		}
	}
}

func (d *Driver) sendOnce(port Port) bool {
	cs := d.source.Channels()
	frame := crsf.EncodeRCChannels(cs)

	done := make(chan error, 1)
	go func() { _, err := port.Write(frame); done <- err }()

	select {
	case err := <-done:
		if err != nil {
			d.counters.TxErrors.Add(1)
			return false
		}
		now := time.Now()
		d.lastTxSuccess.Store(&now)
		d.counters.TxFrames.Add(1)
		return true
	case <-time.After(d.cfg.WriteTimeout):
		d.counters.TxErrors.Add(1)
		return false
	}
}

func (d *Driver) rxLoop(ctx context.Context, port Port, fail func()) {
	var dec crsf.Decoder
	buf := make([]byte, d.cfg.ReadChunkBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail()
			return
		}
		if n == 0 {
			continue
		}
		d.counters.RxBytes.Add(uint64(n))
		now := time.Now()
		d.lastRxSuccess.Store(&now)

		frames := dec.Feed(buf[:n])
		d.counters.RxCRCErrors.Add(dec.CRCErrors)
		d.counters.RxResyncs.Add(dec.Resyncs)
		dec.CRCErrors, dec.Resyncs = 0, 0

		for _, f := range frames {
			d.counters.RxFrames.Add(1)
			if d.onTelemetry != nil {
				d.onTelemetry(crsf.DecodeTelemetry(f))
			}
		}
	}
}

func (d *Driver) setStatus(s Status, detail string) {
	d.mu.Lock()
	prev := d.status
	d.status = s
	d.mu.Unlock()
	if prev == s || d.onLifecycle == nil {
		return
	}
	kind := "offline"
	if s == Open {
		kind = "online"
	}
	d.onLifecycle(LifecycleEvent{Kind: kind, Detail: detail, At: time.Now()})
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
