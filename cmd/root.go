// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/config"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	logLevel   string

	// Loaded by the root command before any subcommand runs
	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tpmscope",
	Short: "TPMS sensor capture and decoder",
	Long: `tpmscope - Capture and decode tire pressure sensor transmissions.

A CC1101 sub-1GHz transceiver on SPI receives sensor frames. A privileged
capture process programs the radio and writes one line per packet; the
monitor supervises that process, decodes Schrader and Siemens/VDO frames
and shows each sensor's pressure, temperature and battery state live.

Configuration is read from tpmscope.yaml (or --config), then .env, then
TPMSCOPE_* environment variables; flags override all of them.

Feed passwords are read from the TPMSCOPE_FEED_PASSWORD environment
variable, or prompted interactively if not set. A --password flag is
intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{File: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logger, err = newLogger(os.Stderr, cfg.LogLevel)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./tpmscope.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// newLogger builds the root logger. Packages derive prefixed loggers from it.
func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}), nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
