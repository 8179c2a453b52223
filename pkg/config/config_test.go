// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := Load(Options{LookupEnv: envMap(nil)})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "TPMS", cfg.Radio.Mode)
	assert.Equal(t, []string{"sudo", "-n"}, cfg.Capture.Elevate)
	assert.Equal(t, 3*time.Second, cfg.Capture.StopTimeout.Std())
}

func TestLoad_LayersInOrder(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "tpmscope.yaml", `
log_level: debug
radio:
  mode: OOK
  frequency: 1
  channel: 3
capture:
  elevate: [doas]
  stop_timeout: 5s
monitor:
  tick: 250ms
  export_dir: /var/lib/tpmscope
feed:
  listen: ":8080"
`)
	envFile := writeFile(t, dir, "test.env", `
TPMSCOPE_MODE=GFSK100
TPMSCOPE_CHANNEL=7
TPMSCOPE_FEED_USER=tpms
TPMSCOPE_FEED_PASSWORD=fromfile
`)

	cfg, err := Load(Options{
		File:    file,
		EnvFile: envFile,
		LookupEnv: envMap(map[string]string{
			"TPMSCOPE_CHANNEL":       "9",
			"TPMSCOPE_FEED_PASSWORD": "fromenv",
			"TPMSCOPE_ELEVATE":       "",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "from YAML")
	assert.Equal(t, "GFSK100", cfg.Radio.Mode, ".env overrides YAML")
	assert.Equal(t, 9, cfg.Radio.Channel, "environment overrides .env")
	assert.Equal(t, 1, cfg.Radio.Frequency)
	assert.Equal(t, "tpms", cfg.Feed.Username)
	assert.Equal(t, "fromenv", cfg.Feed.Password)
	assert.Empty(t, cfg.Capture.Elevate, "empty TPMSCOPE_ELEVATE disables elevation")
	assert.Equal(t, 5*time.Second, cfg.Capture.StopTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Tick.Std())
	assert.Equal(t, "/var/lib/tpmscope", cfg.Monitor.ExportDir)
	assert.Equal(t, 256, cfg.Capture.QueueSize, "unset values keep defaults")
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml"), LookupEnv: envMap(nil)})
	assert.ErrorContains(t, err, "reading config file")

	dir := t.TempDir()
	chdir(t, dir)
	_, err = Load(Options{EnvFile: filepath.Join(dir, "nope.env"), LookupEnv: envMap(nil)})
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	chdir(t, t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown mode", map[string]string{"TPMSCOPE_MODE": "FM"}, "unknown mode"},
		{"frequency select", map[string]string{"TPMSCOPE_FREQ": "5"}, "radio.frequency"},
		{"channel range", map[string]string{"TPMSCOPE_CHANNEL": "300"}, "radio.channel"},
		{"not a number", map[string]string{"TPMSCOPE_ADDR": "x"}, "TPMSCOPE_ADDR"},
		{"bad duration", map[string]string{"TPMSCOPE_TICK": "soon"}, "TPMSCOPE_TICK"},
		{"half credentials", map[string]string{"TPMSCOPE_FEED_USER": "tpms"}, "set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{LookupEnv: envMap(tt.env)})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "bad.yaml", "capture:\n  stop_timeout: forever\n")
	_, err := Load(Options{File: file, LookupEnv: envMap(nil)})
	assert.ErrorContains(t, err, "config.Duration")
}

func TestCaptureConfig(t *testing.T) {
	cfg := Default()
	cfg.Radio.Mode = "ook868"
	cfg.Radio.Frequency = 3
	cfg.Radio.Address = 0x42

	cc := cfg.CaptureConfig()
	assert.Equal(t, radio.ModeOOK868, cc.Mode)
	assert.Equal(t, 3, cc.FrequencySelect)
	assert.Equal(t, uint8(0x42), cc.NodeAddress)
	assert.NoError(t, cc.Validate())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Capture{StopTimeout: Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "stop_timeout: 1.5s")

	var c Capture
	require.NoError(t, yaml.Unmarshal(out, &c))
	assert.Equal(t, 1500*time.Millisecond, c.StopTimeout.Std())
}
