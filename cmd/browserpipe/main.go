// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// browserpipe pipes browser-side telemetry to a local terminal.
//
// Subcommands:
//
//	serve   run the hub: collector, session channel, query API, live tail
//	pipe    read JSON lines on stdin and deliver them to a hub as telemetry
//	watch   mirror a JSON key/value file into the hub's state over the session channel
//	version print version information
//
// Configuration comes from the file named by --config or by the
// BROWSERPIPE_CONFIG environment variable, falling back to built-in
// development defaults. Flags override the file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/browserpipe/browserpipe/lib/process"
	"github.com/browserpipe/browserpipe/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return &process.ExitError{Code: 2}
	}

	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		return runServe(ctx, rest, stdout, stderr)
	case "pipe":
		return runPipe(ctx, rest, stdin, stderr)
	case "watch":
		return runWatch(ctx, rest, stderr)
	case "version", "--version":
		if len(rest) > 0 && (rest[0] == "-v" || rest[0] == "--verbose") {
			fmt.Fprintf(stdout, "browserpipe %s\n", version.Full())
			return nil
		}
		version.Print(stdout, "browserpipe")
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unknown command %q", command)}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `browserpipe pipes browser telemetry to your terminal.

Usage:
  browserpipe serve [flags]   run the hub and print the live tail
  browserpipe pipe [flags]    send JSON lines from stdin to a hub
  browserpipe watch [flags]   mirror a JSON key/value file into hub state
  browserpipe version [-v]

Run "browserpipe <command> --help" for a command's flags.
`)
}
