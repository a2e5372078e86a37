// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/browserpipe/browserpipe/hub"
	"github.com/browserpipe/browserpipe/lib/process"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/lib/testutil"
)

func startHub(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(hub.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	server := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
	})
	return h, server
}

func TestParseLine(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		name    string
		line    string
		skip    bool
		kind    telemetry.Kind
		payload any
	}{
		{name: "blank", line: "   ", skip: true},
		{name: "plain text", line: "server started", kind: telemetry.KindLog, payload: "server started"},
		{name: "json scalar", line: "42", kind: telemetry.KindLog, payload: 42.0},
		{name: "json object without kind", line: `{"message":"hi"}`, kind: telemetry.KindLog, payload: map[string]any{"message": "hi"}},
		{name: "complete item", line: `{"kind":"network","payload":"GET /"}`, kind: telemetry.KindNetwork, payload: "GET /"},
		{name: "broken json", line: `{"message":`, kind: telemetry.KindLog, payload: `{"message":`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			item, ok := parseLine([]byte(test.line), telemetry.KindLog, now)
			if ok == test.skip {
				t.Fatalf("ok = %v, want %v", ok, !test.skip)
			}
			if test.skip {
				return
			}
			if item.Kind != test.kind {
				t.Errorf("Kind = %q, want %q", item.Kind, test.kind)
			}
			if item.CapturedAt != now.UnixMilli() {
				t.Errorf("CapturedAt = %d", item.CapturedAt)
			}
			if object, isObject := test.payload.(map[string]any); isObject {
				got, _ := item.Payload.(map[string]any)
				if got["message"] != object["message"] {
					t.Errorf("Payload = %#v, want %#v", item.Payload, test.payload)
				}
				return
			}
			if item.Payload != test.payload {
				t.Errorf("Payload = %#v, want %#v", item.Payload, test.payload)
			}
		})
	}
}

func TestPipeDeliversLines(t *testing.T) {
	h, server := startHub(t)
	subscription := h.Tail().Subscribe()
	defer subscription.Close()

	stdin := strings.NewReader("first line\n{\"kind\":\"error\",\"payload\":\"boom\"}\n\n{\"n\":3}\n")
	args := []string{"--endpoint", server.URL, "--session", "pipe-session", "--application", "cli-test", "--strict"}
	if err := runPipe(context.Background(), args, stdin, io.Discard); err != nil {
		t.Fatalf("runPipe: %v", err)
	}

	if got := h.Stats().ItemsIngested; got != 3 {
		t.Fatalf("ItemsIngested = %d, want 3", got)
	}
	event := testutil.RequireReceive(t, subscription.Events(), 5*time.Second, "waiting for first item")
	if event.SessionID != "pipe-session" || event.Application != "cli-test" {
		t.Errorf("event identity = %q/%q", event.SessionID, event.Application)
	}
	if event.Item.Payload != "first line" {
		t.Errorf("first payload = %#v", event.Item.Payload)
	}
}

func TestPipeStrictReportsUndelivered(t *testing.T) {
	stdin := strings.NewReader("never delivered\n")
	args := []string{"--endpoint", "http://127.0.0.1:1", "--strict", "--flush-timeout", "2s"}
	err := runPipe(context.Background(), args, stdin, io.Discard)

	var exitError *process.ExitError
	if !errors.As(err, &exitError) || exitError.Code != 3 {
		t.Fatalf("runPipe = %v, want exit status 3", err)
	}
}

func TestPipeInvalidConfiguration(t *testing.T) {
	err := runPipe(context.Background(), []string{"--batch-size", "0"}, strings.NewReader(""), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "max_batch_size") {
		t.Errorf("runPipe = %v, want a batch size validation error", err)
	}
}
