// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/codec"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/producer"
	"github.com/browserpipe/browserpipe/transport"
)

// Commands understood by watch.
const (
	commandReport = "report"
	commandReset  = "reset"
)

func runWatch(ctx context.Context, args []string, stderr io.Writer) error {
	var (
		configPath  string
		channelURL  string
		sessionID   string
		application string
		subtype     string
		file        string
		interval    time.Duration
		useCBOR     bool
		sendItems   bool
		verbose     bool
	)
	flagSet := pflag.NewFlagSet("browserpipe watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (YAML or JSONC)")
	flagSet.StringVar(&channelURL, "url", "", "session channel URL (default: derived from client.endpoint)")
	flagSet.StringVarP(&sessionID, "session", "s", "", "session ID (default: assigned by the hub)")
	flagSet.StringVarP(&application, "application", "a", "", "application name (overrides config)")
	flagSet.StringVar(&subtype, "subtype", telemetry.SubtypeLocalStorage, "state namespace to report into")
	flagSet.StringVarP(&file, "file", "f", "", "JSON object file to watch (required)")
	flagSet.DurationVar(&interval, "interval", 0, "poll period (overrides client.poll_interval)")
	flagSet.BoolVar(&useCBOR, "cbor", false, "use CBOR binary frames")
	flagSet.BoolVar(&sendItems, "items", false, "also send each change to the collector as a storage item")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	help, err := parseFlags(flagSet, args, stderr, "Usage: browserpipe watch --file state.json [flags]")
	if help || err != nil {
		return err
	}
	if file == "" {
		return fmt.Errorf("--file is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("application") {
		cfg.Client.Application = application
	}
	if flagSet.Changed("interval") {
		cfg.Client.PollInterval = interval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if channelURL == "" {
		channelURL, err = channelURLFor(cfg.Client.Endpoint, cfg.Client.ChannelPath)
		if err != nil {
			return err
		}
	}

	logger := newLogger(stderr, verbose)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	format := codec.JSON
	if useCBOR {
		format = codec.CBOR
	}

	commands := make(chan telemetry.Message, 8)

	channel, err := producer.Dial(ctx, producer.ChannelConfig{
		URL:          channelURL,
		SessionID:    sessionID,
		Application:  cfg.Client.Application,
		Capabilities: []string{commandReport, commandReset},
		Config: map[string]any{
			"subtype": subtype,
			"file":    file,
		},
		Format: format,
		OnCommand: func(message telemetry.Message) {
			select {
			case commands <- message:
			default:
				logger.Warn("dropping command; watcher busy", "action", message.Action)
			}
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer channel.Close()

	watcherConfig := producer.StorageWatcherConfig{
		Subtype:      subtype,
		Source:       fileSnapshot(file),
		Updater:      channel,
		PollInterval: cfg.Client.PollInterval,
		Logger:       logger,
	}
	if sendItems {
		transportConfig, err := transport.FromClientConfig(cfg.Client)
		if err != nil {
			return err
		}
		transportConfig.SessionID = channel.SessionID()
		transportConfig.Logger = logger
		items := transport.New(transportConfig)
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			items.Flush(flushCtx)
			items.Destroy()
		}()
		watcherConfig.Sink = items
	}
	watcher := producer.NewStorageWatcher(watcherConfig)

	logger.Info("watching",
		"file", file,
		"subtype", subtype,
		"session_id", channel.SessionID(),
		"channel", channelURL,
	)

	if _, err := watcher.Poll(ctx); err != nil {
		logger.Warn("initial poll failed", "error", err)
	}
	go watcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-channel.Done():
			if err := channel.Err(); err != nil {
				return fmt.Errorf("session channel closed: %w", err)
			}
			return nil
		case command := <-commands:
			handleWatchCommand(ctx, command, watcher, logger)
		}
	}
}

func handleWatchCommand(ctx context.Context, command telemetry.Message, watcher *producer.StorageWatcher, logger *slog.Logger) {
	switch command.Action {
	case commandReport:
		result, err := watcher.Poll(ctx)
		if err != nil {
			logger.Warn("report command: poll failed", "error", err)
			return
		}
		logger.Info("report command handled", "changes", result.Len())
	case commandReset:
		// Forgetting the baseline makes the next poll resend
		// everything, repopulating a cleared hub.
		watcher.Reset()
		if _, err := watcher.Poll(ctx); err != nil {
			logger.Warn("reset command: poll failed", "error", err)
			return
		}
		logger.Info("reset command handled")
	default:
		logger.Info("ignoring unknown command", "action", command.Action)
	}
}

// fileSnapshot reads a JSON object file as a snapshot. A missing file
// is an empty store.
func fileSnapshot(path string) producer.SnapshotFunc {
	return func(context.Context) (changedetect.Snapshot, error) {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return changedetect.Snapshot{}, nil
		}
		if err != nil {
			return nil, err
		}
		var values map[string]any
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		snapshot := make(changedetect.Snapshot, len(values))
		for key, value := range values {
			snapshot[key] = changedetect.Value{Value: value}
		}
		return snapshot, nil
	}
}

// channelURLFor maps a collector base URL to its session channel URL.
func channelURLFor(endpoint, channelPath string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("client.endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client.endpoint: unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + channelPath
	return parsed.String(), nil
}
