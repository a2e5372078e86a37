// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/clock"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// SnapshotFunc reads the current contents of a watched store.
type SnapshotFunc func(ctx context.Context) (changedetect.Snapshot, error)

// Updater delivers a delta over the session channel. *Channel
// implements it.
type Updater interface {
	SendUpdate(ctx context.Context, subtype string, payload any) error
}

// ItemSink accepts telemetry items. *transport.Transport implements
// it.
type ItemSink interface {
	Send(item telemetry.Item)
}

// StorageWatcherConfig configures a StorageWatcher. At least one of
// Updater and Sink should be set or changes go nowhere.
type StorageWatcherConfig struct {
	// Subtype names the store, e.g. telemetry.SubtypeLocalStorage.
	// Required.
	Subtype string

	// Source reads the store for Poll. Optional when only Intercept
	// is used.
	Source SnapshotFunc

	// Updater receives deltas as session channel updates.
	Updater Updater

	// Sink receives deltas as storage telemetry items.
	Sink ItemSink

	// PollInterval is the Run period. Default 1s.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// StoragePayload is the payload of a storage telemetry item.
type StoragePayload struct {
	Subtype string              `json:"subtype"`
	Changes changedetect.Result `json:"changes"`
}

// StorageWatcher reports changes to one key/value store. Poll and
// Intercept share a tracker, so a change seen by one is not reported
// again by the other unless the value changes again.
type StorageWatcher struct {
	config  StorageWatcherConfig
	tracker *changedetect.Tracker
	clock   clock.Clock
	logger  *slog.Logger
}

// NewStorageWatcher creates a watcher with an empty baseline: the
// first Poll reports every key as added.
func NewStorageWatcher(config StorageWatcherConfig) *StorageWatcher {
	if config.Subtype == "" {
		panic("producer.StorageWatcher: Subtype is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &StorageWatcher{
		config:  config,
		tracker: changedetect.NewTracker(),
		clock:   config.Clock,
		logger:  config.Logger.With("subtype", config.Subtype),
	}
}

// Poll snapshots the store and reports the difference from the last
// known contents.
func (w *StorageWatcher) Poll(ctx context.Context) (changedetect.Result, error) {
	if w.config.Source == nil {
		return changedetect.Result{}, nil
	}
	snapshot, err := w.config.Source(ctx)
	if err != nil {
		return changedetect.Result{}, err
	}
	result := w.tracker.Observe(snapshot)
	w.report(ctx, result)
	return result, nil
}

// Intercept reports a single mutation as it happens. deleted marks a
// removal; value is ignored then.
func (w *StorageWatcher) Intercept(ctx context.Context, key string, value any, deleted bool) changedetect.Result {
	var result changedetect.Result
	if deleted {
		result = w.tracker.Delete(key)
	} else {
		result = w.tracker.Set(key, changedetect.Value{
			Value:     value,
			Timestamp: telemetry.Millis(w.clock.Now()),
		})
	}
	w.report(ctx, result)
	return result
}

// Snapshot returns the last known contents.
func (w *StorageWatcher) Snapshot() changedetect.Snapshot {
	return w.tracker.Snapshot()
}

// Reset forgets the last known contents, so the next Poll reports
// every key as added.
func (w *StorageWatcher) Reset() {
	w.tracker.Reset()
}

// Run polls every PollInterval until ctx is cancelled.
func (w *StorageWatcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.Warn("storage poll failed", "error", err)
			}
		}
	}
}

// report forwards a non-empty result. Delivery failures are logged,
// never returned: watching must not disturb the instrumented code.
func (w *StorageWatcher) report(ctx context.Context, result changedetect.Result) {
	if !result.HasChanges() {
		return
	}
	if w.config.Updater != nil {
		if err := w.config.Updater.SendUpdate(ctx, w.config.Subtype, result); err != nil {
			w.logger.Debug("sending storage update failed", "changes", result.Len(), "error", err)
		}
	}
	if w.config.Sink != nil {
		w.config.Sink.Send(telemetry.NewItem(telemetry.KindStorage, StoragePayload{
			Subtype: w.config.Subtype,
			Changes: result,
		}))
	}
}
