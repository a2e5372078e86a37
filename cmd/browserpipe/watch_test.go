// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/lib/testutil"
)

func TestChannelURLFor(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "http://localhost:3006", want: "ws://localhost:3006/ws"},
		{endpoint: "https://hub.example.com/", want: "wss://hub.example.com/ws"},
		{endpoint: "http://proxy.local/browserpipe", want: "ws://proxy.local/browserpipe/ws"},
		{endpoint: "ws://localhost:3006", want: "ws://localhost:3006/ws"},
		{endpoint: "ftp://localhost", wantErr: true},
	}
	for _, test := range tests {
		got, err := channelURLFor(test.endpoint, "/ws")
		if test.wantErr {
			if err == nil {
				t.Errorf("channelURLFor(%q) = %q, want error", test.endpoint, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("channelURLFor(%q): %v", test.endpoint, err)
			continue
		}
		if got != test.want {
			t.Errorf("channelURLFor(%q) = %q, want %q", test.endpoint, got, test.want)
		}
	}
}

func TestFileSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	source := fileSnapshot(path)

	snapshot, err := source(context.Background())
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("missing file snapshot = %v, want empty", snapshot)
	}

	if err := os.WriteFile(path, []byte(`{"theme":"dark","count":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	snapshot, err = source(context.Background())
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if snapshot["theme"].Value != "dark" || snapshot["count"].Value != 2.0 {
		t.Errorf("snapshot = %v", snapshot)
	}

	if err := os.WriteFile(path, []byte(`["not","an","object"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := source(context.Background()); err == nil {
		t.Error("expected an error for a non-object file")
	}
}

func TestWatchReportsFileChanges(t *testing.T) {
	h, server := startHub(t)
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- runWatch(ctx, []string{
			"--url", "ws" + server.URL[len("http"):] + "/ws",
			"--session", "watch-session",
			"--file", path,
			"--interval", "20ms",
		}, io.Discard)
	}()

	stateValue := func(key string) any {
		entry, ok := h.State().Get(telemetry.SubtypeLocalStorage, key)
		if !ok {
			return nil
		}
		return entry.Value
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return stateValue("theme") == "dark"
	}, "initial snapshot never reached the hub")

	if err := os.WriteFile(path, []byte(`{"theme":"light","lang":"en"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return stateValue("theme") == "light" && stateValue("lang") == "en"
	}, "file change never reached the hub")

	// A reset command makes the watcher resend everything, restoring a
	// cleared hub.
	h.State().Clear(telemetry.SubtypeLocalStorage)
	if err := h.SendCommand(ctx, "watch-session", commandReset, nil); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return stateValue("theme") == "light"
	}, "reset did not repopulate the hub")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for watch to stop"); err != nil {
		t.Errorf("runWatch = %v", err)
	}
}

func TestWatchRequiresFile(t *testing.T) {
	if err := runWatch(context.Background(), nil, io.Discard); err == nil {
		t.Error("expected an error without --file")
	}
}
