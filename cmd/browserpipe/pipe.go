// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/browserpipe/browserpipe/lib/process"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/transport"
)

// maxLineBytes bounds one stdin line.
const maxLineBytes = 1 << 20

func runPipe(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	var (
		configPath   string
		endpoint     string
		application  string
		sessionID    string
		kind         string
		compression  string
		batchSize    int
		discover     bool
		strict       bool
		verbose      bool
		flushTimeout time.Duration
	)
	flagSet := pflag.NewFlagSet("browserpipe pipe", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML or JSONC)")
	flagSet.StringVarP(&endpoint, "endpoint", "e", "", "collector base URL (overrides config)")
	flagSet.StringVarP(&application, "application", "a", "", "application name sent with every batch")
	flagSet.StringVarP(&sessionID, "session", "s", "", "session ID (default: random)")
	flagSet.StringVarP(&kind, "kind", "k", string(telemetry.KindLog), "kind for lines that do not carry one")
	flagSet.StringVar(&compression, "compression", "", "gzip, zstd, lz4 or none (overrides config)")
	flagSet.IntVar(&batchSize, "batch-size", 0, "items per batch (overrides config)")
	flagSet.BoolVar(&discover, "discover", false, "probe candidate ports for a running hub before sending")
	flagSet.BoolVar(&strict, "strict", false, "exit with status 3 if anything was not delivered")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flagSet.DurationVar(&flushTimeout, "flush-timeout", 10*time.Second, "how long to wait for delivery at end of input")

	help, err := parseFlags(flagSet, args, stderr, "Usage: browserpipe pipe [flags] < lines.jsonl")
	if help || err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("endpoint") {
		cfg.Client.Endpoint = endpoint
	}
	if flagSet.Changed("application") {
		cfg.Client.Application = application
	}
	if flagSet.Changed("compression") {
		cfg.Client.Compression = compression
	}
	if flagSet.Changed("batch-size") {
		cfg.Client.MaxBatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(stderr, verbose)
	transportConfig, err := transport.FromClientConfig(cfg.Client)
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	transportConfig.SessionID = sessionID
	transportConfig.Logger = logger

	pipe := transport.New(transportConfig)
	defer pipe.Destroy()

	if discover {
		selected := pipe.Discover(ctx)
		logger.Info("collector selected", "endpoint", selected, "connected", pipe.Stats().Connected)
	}

	lines, err := pumpLines(ctx, stdin, telemetry.Kind(kind), pipe.Send)
	if err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := pipe.Flush(flushCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("flushing: %w", err)
	}

	stats := pipe.Stats()
	logger.Info("pipe finished",
		"session_id", sessionID,
		"lines", lines,
		"sent", stats.TotalSent,
		"failed", stats.TotalFailed,
		"dropped", stats.Dropped,
		"queued_batches", stats.QueueLength,
		"average_latency", stats.AverageLatency,
	)

	undelivered := uint64(stats.BufferLength) + stats.Dropped + uint64(stats.QueueLength)
	if strict && undelivered > 0 {
		return &process.ExitError{
			Code: 3,
			Err:  fmt.Errorf("%d items dropped, %d batches still queued (last error: %s)", stats.Dropped, stats.QueueLength, stats.LastError),
		}
	}
	return nil
}

// pumpLines sends one item per non-blank line until EOF or ctx is
// cancelled. Returns the number of items sent.
func pumpLines(ctx context.Context, r io.Reader, kind telemetry.Kind, send func(telemetry.Item)) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	count := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return count, nil
		}
		item, ok := parseLine(scanner.Bytes(), kind, time.Now())
		if !ok {
			continue
		}
		send(item)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading input: %w", err)
	}
	return count, nil
}

// parseLine turns one input line into an item. A JSON object with a
// "kind" field is taken as a complete item; any other JSON value
// becomes the payload; anything else is sent as a string payload.
func parseLine(line []byte, kind telemetry.Kind, now time.Time) (telemetry.Item, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return telemetry.Item{}, false
	}

	item := telemetry.Item{Kind: kind, CapturedAt: telemetry.Millis(now)}
	if !json.Valid(line) {
		item.Payload = string(line)
		return item, true
	}

	if line[0] == '{' {
		var full telemetry.Item
		if err := json.Unmarshal(line, &full); err == nil && full.Kind != "" {
			if full.CapturedAt == 0 {
				full.CapturedAt = item.CapturedAt
			}
			full.SentAt = 0
			return full, true
		}
	}

	var payload any
	if err := json.Unmarshal(line, &payload); err != nil {
		item.Payload = string(line)
		return item, true
	}
	item.Payload = payload
	return item, true
}
