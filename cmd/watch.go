// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/tpmscope/pkg/feed"
	"github.com/spf13/cobra"
)

var (
	watchUsername string
	watchNoSSL    bool
	watchJSON     bool
	watchWarnOnly bool
)

var watchCmd = &cobra.Command{
	Use:   "watch ws://host:port[/feed]",
	Short: "Print readings from a remote live feed",
	Long: `Connect to the WebSocket feed of a running monitor and print each
reading as it arrives.

With --username the connection uses HTTP Basic auth. The password is read
from the TPMSCOPE_FEED_PASSWORD environment variable, or prompted
interactively if not set.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchUsername, "username", "u", "", "Username for HTTP Basic auth")
	watchCmd.Flags().BoolVar(&watchNoSSL, "no-ssl-verify", false, "Skip TLS certificate verification for wss://")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Request JSON text frames instead of CBOR")
	watchCmd.Flags().BoolVar(&watchWarnOnly, "warnings", false, "Only print readings with a warning")
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := args[0]
	opts := feed.DialOptions{
		Username:      watchUsername,
		SkipSSLVerify: watchNoSSL,
	}
	if watchJSON {
		opts.Format = feed.FormatJSON
	}
	if watchUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		opts.Password = password
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := feed.Dial(ctx, url, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("tpmscope - Feed Watch\n")
	fmt.Printf("Connection: WebSocket: %s (%s)\n", url, opts.Format)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		client.Close()
	}()

	for {
		r, err := client.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, feed.ErrConnectionClosed) {
				return nil
			}
			return fmt.Errorf("feed: %w", err)
		}
		if watchWarnOnly && !r.IsWarning() {
			continue
		}
		printReading(r)
	}
}
