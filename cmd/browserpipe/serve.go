// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/browserpipe/browserpipe/hub"
	"github.com/browserpipe/browserpipe/lib/console"
	"github.com/browserpipe/browserpipe/lib/service"
)

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		host       string
		port       int
		quiet      bool
		noColor    bool
		verbose    bool
	)
	flagSet := pflag.NewFlagSet("browserpipe serve", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML or JSONC)")
	flagSet.StringVar(&host, "host", "", "listen host (overrides config)")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port, 0 for any free port (overrides config)")
	pingInterval := flagSet.Duration("ping-interval", 0, "liveness sweep period (overrides config)")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "do not print the live tail")
	flagSet.BoolVar(&noColor, "no-color", false, "disable colour in the live tail")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	help, err := parseFlags(flagSet, args, stderr, "Usage: browserpipe serve [flags]")
	if help || err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("host") {
		cfg.Server.Host = host
	}
	if flagSet.Changed("port") {
		// An explicit port is exact.
		cfg.Server.Port = port
		cfg.Server.FallbackPorts = nil
	}
	if flagSet.Changed("ping-interval") {
		cfg.Server.PingInterval = *pingInterval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(stderr, verbose)
	h := hub.New(hub.FromServerConfig(cfg.Server, logger))
	server := service.NewHTTPServer(service.HTTPServerConfig{
		Addresses: cfg.Server.Addresses(),
		Handler:   h.Handler(),
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
	case err := <-serveDone:
		return err
	case <-ctx.Done():
		return <-serveDone
	}

	// Subscribe before announcing the address so nothing sent by an
	// early producer is missed by the tail.
	if !quiet {
		printer := newTailPrinter(stdout, noColor)
		subscription := h.Tail().Subscribe()
		go func() {
			defer subscription.Close()
			followTail(ctx, subscription.Events(), printer)
		}()
	}
	fmt.Fprintf(stdout, "browserpipe hub listening on http://%s\n", server.Addr())

	go h.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	h.Close()
	return <-serveDone
}

func newTailPrinter(w io.Writer, noColor bool) *console.Printer {
	options := console.Options{}
	if file, ok := w.(*os.File); ok && console.IsTerminal(file) {
		options.Color = !noColor
		options.Width = console.TerminalWidth(file, 120)
	}
	return console.New(w, options)
}

func followTail(ctx context.Context, events <-chan hub.Event, printer *console.Printer) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := printer.Print(formatEvent(event)); err != nil {
				return
			}
		}
	}
}
