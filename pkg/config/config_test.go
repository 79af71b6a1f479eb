package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithNoArgsUsesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().SerialPath, cfg.SerialPath)
}

func TestLoadRejectsOutOfRangeDeadzone(t *testing.T) {
	cfg, err := Load([]string{"--deadzone-stick=0.9"})
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadzone_stick")
}

func TestFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial_path = "/dev/ttyFROMFILE"
arm_hold_ms = 2000
`), 0o644))

	cfg, err := Load([]string{"--config=" + path, "--serial=/dev/ttyFROMFLAG"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyFROMFLAG", cfg.SerialPath, "explicit flag must win over file")
	assert.EqualValues(t, 2000, cfg.ArmHoldMS, "file value must win over built-in default")
}

func TestFileValueWinsOverDefaultWhenFlagNotPassed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`serial_path = "/dev/ttyFROMFILE"`), 0o644))

	cfg, err := Load([]string{"--config=" + path})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyFROMFILE", cfg.SerialPath)
}
