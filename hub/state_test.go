// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"testing"
	"time"

	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

func TestStateMergeStorageDelta(t *testing.T) {
	t.Parallel()

	state := NewState()
	first := map[string]any{
		"added": []any{
			map[string]any{"key": "theme", "value": "dark"},
			map[string]any{"key": "token", "value": "t-1"},
		},
	}
	changes, err := state.Merge(telemetry.SubtypeLocalStorage, "abc", first, epoch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if changes == nil || len(changes.Added) != 2 {
		t.Fatalf("changes = %+v, want two additions", changes)
	}

	later := epoch.Add(time.Second)
	second := map[string]any{
		"modified": []any{map[string]any{"key": "theme", "value": "light", "oldValue": "dark"}},
		"deleted":  []any{map[string]any{"key": "token"}},
	}
	if _, err := state.Merge(telemetry.SubtypeLocalStorage, "def", second, later); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	entry, ok := state.Get(telemetry.SubtypeLocalStorage, "theme")
	if !ok {
		t.Fatal("theme missing after modification")
	}
	if entry.Value != "light" {
		t.Errorf("theme = %v, want light", entry.Value)
	}
	if entry.UpdatedBy != "def" || entry.UpdatedAt != telemetry.Millis(later) {
		t.Errorf("theme stamped %q at %d, want def at %d", entry.UpdatedBy, entry.UpdatedAt, telemetry.Millis(later))
	}
	if entry.Subtype != telemetry.SubtypeLocalStorage {
		t.Errorf("theme subtype = %q", entry.Subtype)
	}
	if _, ok := state.Get(telemetry.SubtypeLocalStorage, "token"); ok {
		t.Error("deleted key still present")
	}
}

func TestStateMergeUnknownSubtypeVerbatim(t *testing.T) {
	t.Parallel()

	state := NewState()
	payload := map[string]any{"route": "/checkout", "params": []any{"a", "b"}}
	changes, err := state.Merge("router", "abc", payload, epoch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if changes != nil {
		t.Errorf("verbatim subtype produced changes %+v", changes)
	}

	entry, ok := state.Get("router", "abc")
	if !ok {
		t.Fatal("verbatim payload not stored under the session key")
	}
	stored, ok := entry.Value.(map[string]any)
	if !ok || stored["route"] != "/checkout" {
		t.Errorf("stored value = %#v", entry.Value)
	}
}

func TestStateMergeRejectsNonDelta(t *testing.T) {
	t.Parallel()

	state := NewState()
	if _, err := state.Merge(telemetry.SubtypeCookies, "abc", "not a change set", epoch); err == nil {
		t.Fatal("Merge accepted a string payload for a storage subtype")
	}
	if namespaces, keys := state.Counts(); namespaces != 0 || keys != 0 {
		t.Errorf("Counts = %d/%d after rejected merge", namespaces, keys)
	}
}

func TestStateSnapshotAndClear(t *testing.T) {
	t.Parallel()

	state := NewState()
	state.Apply("localStorage", "localStorage", "abc", changedetect.Result{
		Added: []changedetect.Change{{Key: "a", Value: 1.0}, {Key: "b", Value: 2.0}},
	}, epoch)
	state.StoreVerbatim("router", "abc", "router", "abc", "/home", epoch)

	all := state.Snapshot("")
	if len(all) != 2 || len(all["localStorage"]) != 2 {
		t.Fatalf("Snapshot(\"\") = %v", all)
	}
	only := state.Snapshot("router")
	if len(only) != 1 || only["router"]["abc"].Value != "/home" {
		t.Fatalf("Snapshot(router) = %v", only)
	}

	// Snapshots are copies.
	all["localStorage"]["a"] = telemetry.StateEntry{Value: "mutated"}
	if entry, _ := state.Get("localStorage", "a"); entry.Value != 1.0 {
		t.Errorf("snapshot mutation leaked into state: %v", entry.Value)
	}

	if removed := state.Clear("localStorage"); removed != 2 {
		t.Errorf("Clear(localStorage) = %d, want 2", removed)
	}
	if namespaces, keys := state.Counts(); namespaces != 1 || keys != 1 {
		t.Errorf("Counts after namespace clear = %d/%d, want 1/1", namespaces, keys)
	}
	if removed := state.Clear(""); removed != 1 {
		t.Errorf("Clear(\"\") = %d, want 1", removed)
	}
	if namespaces, _ := state.Counts(); namespaces != 0 {
		t.Errorf("namespaces = %d after full clear", namespaces)
	}
}
