// Command fpv-bridge bridges a Linux joystick device to an ExpressLRS
// radio module over CRSF: reading gamepad input, mapping it to RC
// channels, and driving the 420kbaud serial link at a steady 250Hz while
// supervising failsafe behavior.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/librescoot/fpv-bridge/pkg/config"
	"github.com/librescoot/fpv-bridge/pkg/control"
	"github.com/librescoot/fpv-bridge/pkg/crsf"
	"github.com/librescoot/fpv-bridge/pkg/input"
	"github.com/librescoot/fpv-bridge/pkg/mapper"
	"github.com/librescoot/fpv-bridge/pkg/metrics"
	fpvredis "github.com/librescoot/fpv-bridge/pkg/redis"
	"github.com/librescoot/fpv-bridge/pkg/serialport"
	"github.com/librescoot/fpv-bridge/pkg/sink"
	"github.com/librescoot/fpv-bridge/pkg/supervisor"
)

// defaultAxisMapping and defaultButtonMapping describe a generic
// dual-stick gamepad's /dev/input/jsN numbering. A controller that
// differs can be accommodated by building a custom AxisMapping /
// ButtonMapping; hardcoded here keeps this entry point focused on wiring
// the core pipeline rather than controller autodetection.
var defaultAxisMapping = input.AxisMapping{
	0: input.AxisRoll,
	1: input.AxisPitch,
	2: input.AxisYaw,
	3: input.AxisThrottle,
}

var defaultButtonMapping = input.ButtonMapping{
	0: input.ButtonArm,
	1: input.ButtonEmergency,
	2: input.ButtonModeCycle,
	3: input.ButtonCalibrate,
	4: input.AuxButtons[0],
	5: input.AuxButtons[1],
	6: input.AuxButtons[2],
	7: input.AuxButtons[3],
}

// lazyChannelSource defers to sv.Channels() once sv exists, breaking the
// construction cycle between the driver (which needs a ChannelSource) and
// the supervisor (which needs the driver as its DriverHealth).
type lazyChannelSource struct {
	sv **supervisor.Supervisor
}

func (l lazyChannelSource) Channels() crsf.ChannelSet {
	return (*l.sv).Channels()
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("fpv-bridge: configuration error: %s", strings.ReplaceAll(err.Error(), "\n", "; "))
	}
	log.Printf("fpv-bridge: starting, serial=%s redis=%s", cfg.SerialPath, cfg.RedisAddr)

	redisClient, err := fpvredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("fpv-bridge: connecting to redis: %v", err)
	}
	defer redisClient.Close()

	jsonlSink, err := sink.NewJSONLSink(cfg.TelemetryLogPath, cfg.TelemetryLogMaxSizeMB, 1024)
	if err != nil {
		log.Fatalf("fpv-bridge: opening telemetry log: %v", err)
	}
	defer jsonlSink.Close()
	redisSink := sink.NewRedisSink(redisClient, "fpv-bridge", "fpv-bridge:lifecycle", 256)
	defer redisSink.Close()
	fanout := sink.NewFanout(jsonlSink, redisSink)

	m := mapper.New(mapper.Params{
		ArmHoldMS:        cfg.ArmHoldMS,
		ArmThrottleMaxUS: cfg.ArmThrottleMaxUS,
		AutoDisarmS:      cfg.AutoDisarmS,
	}, mapper.Calibration{
		DeadzoneStick:   cfg.DeadzoneStick,
		DeadzoneTrigger: cfg.DeadzoneTrigger,
		Expo:            [4]float64{cfg.ExpoRoll, cfg.ExpoPitch, cfg.ExpoThrottle, cfg.ExpoYaw}, // indexed by input.AxisID: roll, pitch, throttle, yaw
	})
	for _, axis := range cfg.ReverseChannels {
		m.SetReverse(input.AxisID(axis), true)
	}

	packetPeriod := time.Second / time.Duration(cfg.PacketRateHz)
	driverCfg := serialport.Config{
		Path:              cfg.SerialPath,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		ReconnectInterval: time.Duration(cfg.ReconnectIntervalMS) * time.Millisecond,
		ReadChunkBytes:    cfg.ReadChunkBytes,
		PacketPeriod:      packetPeriod,
		StaleWindow:       10 * time.Millisecond,
	}

	counters := &metrics.Counters{}
	var sv *supervisor.Supervisor

	onTelemetry := func(rec crsf.TelemetryRecord) {
		fanout.Telemetry(sink.TelemetryEnvelope{At: time.Now(), Record: rec})
	}
	onLifecycle := func(e serialport.LifecycleEvent) {
		fanout.Lifecycle(e.Kind, e.Detail, e.At)
	}
	driver := serialport.New(driverCfg, lazyChannelSource{&sv}, counters, onTelemetry, onLifecycle)
	sv = supervisor.New(m, driver, fanout, time.Duration(cfg.FailsafeInputMS)*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go driver.Run(ctx)

	var latestSnapshot atomic.Pointer[input.Snapshot]
	empty := input.Snapshot{}
	latestSnapshot.Store(&empty)

	joystickPath := "/dev/input/js0"
	src, err := input.OpenJoystick(joystickPath, defaultAxisMapping, defaultButtonMapping)
	if err != nil {
		log.Printf("fpv-bridge: opening joystick %s: %v (running with no input source)", joystickPath, err)
	} else {
		go runInputActivity(ctx, src, sv, &latestSnapshot)
	}

	watcher := control.NewWatcher(redisClient, cfg.CommandListKey, m, func() input.Snapshot {
		if p := latestSnapshot.Load(); p != nil {
			return *p
		}
		return input.Snapshot{}
	}, "", nil)
	go watcher.Run(ctx)

	go publishCountersPeriodically(ctx, counters, fanout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("fpv-bridge: shutting down")
	cancel()
	if src != nil {
		src.Close()
	}
	time.Sleep(100 * time.Millisecond)
}

// runInputActivity is the Input activity: it folds controller events into
// a running snapshot, publishes it for the control plane's calibrate
// command to read, and ticks the supervisor both on every fresh event and
// on a steady 4ms timer so failsafe promotion happens even if the
// controller goes silent without a clean disconnect event.
func runInputActivity(ctx context.Context, src input.Source, sv *supervisor.Supervisor, latest *atomic.Pointer[input.Snapshot]) {
	snap := input.Snapshot{}
	ticker := time.NewTicker(4 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-src.Events():
			if !ok {
				return
			}
			snap = snap.Apply(e)
			latest.Store(&snap)
			if e.Kind != input.EventDisconnect {
				sv.NoteInput(e.At)
			}
			sv.Tick(snap, time.Now())
		case <-ticker.C:
			sv.Tick(snap, time.Now())
		}
	}
}

func publishCountersPeriodically(ctx context.Context, counters *metrics.Counters, fanout *sink.Fanout) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fanout.Counters(counters.Snapshot(), time.Now())
		}
	}
}
