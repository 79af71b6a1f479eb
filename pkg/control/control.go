// Package control implements C6: the command-plane watcher that lets an
// operator tool reach into the running bridge over Redis. It mirrors the
// fleet's usual BRPOP-a-list command watcher, except each list entry is a
// CBOR-encoded envelope rather than a bare command string, since this
// plane's commands carry typed arguments (which axis to reverse, what
// config to reload) instead of a fixed handful of zero-argument actions.
package control

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/librescoot/fpv-bridge/pkg/config"
	"github.com/librescoot/fpv-bridge/pkg/input"
)

// Command names recognized in an Envelope's Action field.
const (
	ActionCalibrate      = "calibrate"
	ActionEmergencyClear = "emergency-clear"
	ActionSetReverse     = "set-reverse"
	ActionReloadConfig   = "reload-config"
)

// Envelope is the CBOR structure every command-list entry decodes to.
// The fields after Action are action-specific: set-reverse reads
// Axis/Reverse, reload-config reads ConfigPath, the rest ignore them.
type Envelope struct {
	Action      string `cbor:"action"`
	Axis        int    `cbor:"axis,omitempty"`
	Reverse     bool   `cbor:"reverse,omitempty"`
	ConfigPath  string `cbor:"config_path,omitempty"`
}

// CommandSource is the subset of the Redis client the watcher needs: a
// blocking pop off the command list. Satisfied by *redis.Client.
type CommandSource interface {
	BRPop(timeout time.Duration, key string) ([]string, error)
}

// Mapper is the subset of *mapper.Mapper the watcher drives.
type Mapper interface {
	Calibrate(snap input.Snapshot)
	SetReverse(axis input.AxisID, reverse bool)
	ClearEmergency(now time.Time) bool
}

// ConfigReloader receives a freshly loaded, validated Config whenever
// reload-config succeeds; the caller decides what to do with it. A nil
// reloader (what cmd/fpv-bridge passes) means a reload only validates the
// file and the new Config is discarded.
type ConfigReloader func(*config.Config)

// Watcher drains the command list and dispatches each envelope.
type Watcher struct {
	source     CommandSource
	listKey    string
	mapper     Mapper
	snapshot   func() input.Snapshot
	onReload   ConfigReloader
	configPath string
}

func NewWatcher(source CommandSource, listKey string, m Mapper, snapshot func() input.Snapshot, configPath string, onReload ConfigReloader) *Watcher {
	return &Watcher{source: source, listKey: listKey, mapper: m, snapshot: snapshot, configPath: configPath, onReload: onReload}
}

// Run blocks processing commands until ctx is canceled. Each BRPOP blocks
// server-side for at most one second; ctx cancellation is only observed
// between pops, so Run returns within about a second of cancellation.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("control: watching command list %s", w.listKey)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := w.source.BRPop(time.Second, w.listKey)
		if err != nil {
			log.Printf("control: BRPOP on %s: %v", w.listKey, err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) != 2 {
			continue
		}

		var env Envelope
		if err := cbor.Unmarshal([]byte(result[1]), &env); err != nil {
			log.Printf("control: malformed command envelope: %v", err)
			continue
		}
		if err := w.dispatch(env); err != nil {
			log.Printf("control: dispatching %q: %v", env.Action, err)
		}
	}
}

func (w *Watcher) dispatch(env Envelope) error {
	switch env.Action {
	case ActionCalibrate:
		w.mapper.Calibrate(w.snapshot())
		return nil

	case ActionEmergencyClear:
		if !w.mapper.ClearEmergency(time.Now()) {
			return errors.New("emergency-clear rejected: arm button not released for 1s")
		}
		return nil

	case ActionSetReverse:
		if env.Axis < 0 || env.Axis > int(input.AxisYaw) {
			return errors.New("axis out of range")
		}
		w.mapper.SetReverse(input.AxisID(env.Axis), env.Reverse)
		return nil

	case ActionReloadConfig:
		path := env.ConfigPath
		if path == "" {
			path = w.configPath
		}
		args := []string{}
		if path != "" {
			args = append(args, "--config="+path)
		}
		cfg, err := config.Load(args)
		if err != nil {
			return err
		}
		if w.onReload != nil {
			w.onReload(cfg)
		}
		return nil

	default:
		return errors.New("unknown action: " + env.Action)
	}
}
