// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/browserpipe/browserpipe/lib/config"
	"github.com/browserpipe/browserpipe/lib/console"
)

// loadConfig reads path, else BROWSERPIPE_CONFIG, else the defaults.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// newLogger writes human-readable records to a terminal and JSON
// records otherwise.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if file, ok := w.(*os.File); ok && console.IsTerminal(file) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// parseFlags parses args, printing usage for --help. A nil error with
// help set means the caller should return without doing anything.
func parseFlags(flagSet *pflag.FlagSet, args []string, stderr io.Writer, usage string) (help bool, err error) {
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "%s\n\nFlags:\n", usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if flagSet.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}
	return false, nil
}
