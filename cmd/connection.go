// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/Thermoquad/tpmscope/pkg/capture"
	"github.com/Thermoquad/tpmscope/pkg/radio"
	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Radio flags shared by every command that configures a capture
var (
	radioMode    string
	radioFreq    int
	radioChannel int
	radioAddr    int
	radioSPI     string
	outDir       string
	simulate     bool
)

func addRadioFlags(c *cobra.Command) {
	c.Flags().StringVar(&radioMode, "mode", "TPMS", "Radio mode ("+strings.Join(radio.ProfileNames(), "|")+")")
	c.Flags().IntVar(&radioFreq, "freq", 0, "Carrier select: 1=315, 2=433, 3=868, 4=915 MHz (0 keeps the mode's band)")
	c.Flags().IntVar(&radioChannel, "channel", 0, "Channel number (CHANNR)")
	c.Flags().IntVar(&radioAddr, "addr", 0, "Node address (ADDR)")
	c.Flags().StringVar(&radioSPI, "spi", "/dev/spidev0.0", "SPI device")
	c.Flags().StringVar(&outDir, "out", "captures", "Directory for capture CSV files")
	c.Flags().BoolVar(&simulate, "simulate", false, "Use synthetic sensors instead of the radio")
}

// applyRadioFlags copies explicitly set flags over the loaded configuration
func applyRadioFlags(c *cobra.Command) error {
	flags := c.Flags()
	if flags.Changed("mode") {
		cfg.Radio.Mode = radioMode
	}
	if flags.Changed("freq") {
		cfg.Radio.Frequency = radioFreq
	}
	if flags.Changed("channel") {
		cfg.Radio.Channel = radioChannel
	}
	if flags.Changed("addr") {
		cfg.Radio.Address = radioAddr
	}
	if flags.Changed("spi") {
		cfg.Radio.SPI = radioSPI
	}
	if flags.Changed("out") {
		cfg.Capture.OutDir = outDir
	}
	return cfg.Validate()
}

// captureCommand builds the argv of the privileged capture process: the
// elevation wrapper, this executable and the capture subcommand with the
// effective radio settings. Simulated captures run unprivileged.
func captureCommand() ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	var argv []string
	if !simulate {
		argv = append(argv, cfg.Capture.Elevate...)
	}
	argv = append(argv, exe, "capture",
		"--mode", cfg.Radio.Mode,
		"--freq", strconv.Itoa(cfg.Radio.Frequency),
		"--channel", strconv.Itoa(cfg.Radio.Channel),
		"--addr", strconv.Itoa(cfg.Radio.Address),
		"--spi", cfg.Radio.SPI,
		"--out", cfg.Capture.OutDir,
		"--log-level", cfg.LogLevel,
	)
	if simulate {
		argv = append(argv, "--simulate")
	}
	return argv, nil
}

// newDecoder returns a decoder that Manchester-decodes the modes that need it
func newDecoder() *tpms.Decoder {
	return tpms.NewDecoder(radio.UsesManchester)
}

// newCaptureReader builds a packet reader supervising the capture process
func newCaptureReader(l *log.Logger) (*capture.Reader, error) {
	argv, err := captureCommand()
	if err != nil {
		return nil, err
	}
	return capture.NewReader(capture.Config{
		Command:          argv,
		QueueSize:        cfg.Capture.QueueSize,
		StopTimeout:      cfg.Capture.StopTimeout.Std(),
		BackpressureWarn: cfg.Capture.BackpressureWarn.Std(),
	}, newDecoder(), l), nil
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenRecordSource opens packet log lines from a file ("-" for stdin) or a
// serial port
func OpenRecordSource(path, portName string, baudRate int) (io.ReadCloser, string, error) {
	switch {
	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	case path == "-":
		return io.NopCloser(os.Stdin), "stdin", nil
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("opening capture file: %w", err)
		}
		return f, "File: " + path, nil
	}
	return nil, "", fmt.Errorf("either a capture file or --port must be specified")
}

// GetPassword retrieves the feed password from the environment or prompts
func GetPassword() (string, error) {
	if pw := os.Getenv("TPMSCOPE_FEED_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
