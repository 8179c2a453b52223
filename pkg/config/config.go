// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads tpmscope settings. Sources are applied in order:
// built-in defaults, a YAML file, a .env file, TPMSCOPE_* environment
// variables. Command line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no file is named and it exists
const DefaultFile = "tpmscope.yaml"

// EnvPrefix prefixes every environment override
const EnvPrefix = "TPMSCOPE_"

// Duration is a time.Duration written as "500ms" or "3s" in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse: %s", err)
	}
	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Radio selects the receiver configuration
type Radio struct {
	Mode      string `yaml:"mode"`
	Frequency int    `yaml:"frequency"`
	Channel   int    `yaml:"channel"`
	Address   int    `yaml:"address"`
	SPI       string `yaml:"spi"`
	SPISpeed  int64  `yaml:"spi_speed_hz"`
}

// Capture configures the supervised capture process
type Capture struct {
	// Elevate is the privilege wrapper prepended to the capture command
	Elevate          []string `yaml:"elevate"`
	OutDir           string   `yaml:"out_dir"`
	QueueSize        int      `yaml:"queue_size"`
	StopTimeout      Duration `yaml:"stop_timeout"`
	BackpressureWarn Duration `yaml:"backpressure_warn"`
}

// Monitor configures the live monitor
type Monitor struct {
	Tick       Duration `yaml:"tick"`
	MaxPerTick int      `yaml:"max_per_tick"`
	ExportDir  string   `yaml:"export_dir"`
	Database   string   `yaml:"database"`
}

// Feed configures the WebSocket feed
type Feed struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the complete tpmscope configuration
type Config struct {
	LogLevel string  `yaml:"log_level"`
	Radio    Radio   `yaml:"radio"`
	Capture  Capture `yaml:"capture"`
	Monitor  Monitor `yaml:"monitor"`
	Feed     Feed    `yaml:"feed"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Radio: Radio{
			Mode:     "TPMS",
			SPI:      "/dev/spidev0.0",
			SPISpeed: radio.DefaultSPIHz,
		},
		Capture: Capture{
			Elevate:          []string{"sudo", "-n"},
			OutDir:           "captures",
			QueueSize:        256,
			StopTimeout:      Duration(3 * time.Second),
			BackpressureWarn: Duration(500 * time.Millisecond),
		},
		Monitor: Monitor{
			Tick:       Duration(200 * time.Millisecond),
			MaxPerTick: 200,
			ExportDir:  "sessions",
		},
	}
}

// Options name the files Load reads
type Options struct {
	// File is the YAML file; empty reads DefaultFile if present
	File string
	// EnvFile is the dotenv file; empty reads ".env" if present
	EnvFile string
	// LookupEnv defaults to os.LookupEnv
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from defaults, the YAML file, the dotenv
// file and the environment. Process environment wins over the dotenv file.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	file, required := opts.File, true
	if file == "" {
		file, required = DefaultFile, false
	}
	if err := cfg.loadYAML(file, required); err != nil {
		return nil, err
	}

	envFile, required := opts.EnvFile, true
	if envFile == "" {
		envFile, required = ".env", false
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
		dotenv = map[string]string{}
	}

	lookupEnv := opts.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = Duration(d)
		return nil
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("MODE", &c.Radio.Mode)
	str("SPI", &c.Radio.SPI)
	str("OUT", &c.Capture.OutDir)
	str("EXPORT_DIR", &c.Monitor.ExportDir)
	str("DB", &c.Monitor.Database)
	str("FEED_LISTEN", &c.Feed.Listen)
	str("FEED_USER", &c.Feed.Username)
	str("FEED_PASSWORD", &c.Feed.Password)
	if v, ok := lookup(EnvPrefix + "ELEVATE"); ok {
		c.Capture.Elevate = strings.Fields(v)
	}

	return errors.Join(
		num("FREQ", &c.Radio.Frequency),
		num("CHANNEL", &c.Radio.Channel),
		num("ADDR", &c.Radio.Address),
		num("QUEUE_SIZE", &c.Capture.QueueSize),
		num("MAX_PER_TICK", &c.Monitor.MaxPerTick),
		dur("STOP_TIMEOUT", &c.Capture.StopTimeout),
		dur("BACKPRESSURE_WARN", &c.Capture.BackpressureWarn),
		dur("TICK", &c.Monitor.Tick),
	)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if _, ok := radio.ProfileByName(c.Radio.Mode); !ok {
		errs = append(errs, fmt.Errorf("radio.mode: unknown mode %q (one of %s)", c.Radio.Mode, strings.Join(radio.ProfileNames(), ", ")))
	}
	if c.Radio.Frequency != 0 {
		if _, err := radio.BandFromSelect(c.Radio.Frequency); err != nil {
			errs = append(errs, fmt.Errorf("radio.frequency: %w", err))
		}
	}
	if c.Radio.Channel < 0 || c.Radio.Channel > 255 {
		errs = append(errs, fmt.Errorf("radio.channel: %d out of range 0-255", c.Radio.Channel))
	}
	if c.Radio.Address < 0 || c.Radio.Address > 255 {
		errs = append(errs, fmt.Errorf("radio.address: %d out of range 0-255", c.Radio.Address))
	}
	if c.Capture.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size: must be positive"))
	}
	if c.Capture.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout: must be positive"))
	}
	if c.Monitor.Tick <= 0 {
		errs = append(errs, fmt.Errorf("monitor.tick: must be positive"))
	}
	if c.Monitor.MaxPerTick <= 0 {
		errs = append(errs, fmt.Errorf("monitor.max_per_tick: must be positive"))
	}
	if (c.Feed.Username == "") != (c.Feed.Password == "") {
		errs = append(errs, fmt.Errorf("feed: username and password must be set together"))
	}
	return errors.Join(errs...)
}

// CaptureConfig builds the radio configuration of the capture process
func (c *Config) CaptureConfig() radio.CaptureConfig {
	p, _ := radio.ProfileByName(c.Radio.Mode)
	return radio.CaptureConfig{
		Mode:            p.ModeID,
		FrequencySelect: c.Radio.Frequency,
		Channel:         uint8(c.Radio.Channel),
		NodeAddress:     uint8(c.Radio.Address),
	}
}
