// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

type fakePeer struct {
	name string
	sent []telemetry.Message
}

func (p *fakePeer) Send(_ context.Context, message telemetry.Message) error {
	p.sent = append(p.sent, message)
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRegistryLastWriteWins(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	first := &fakePeer{name: "first"}
	second := &fakePeer{name: "second"}

	if superseded := registry.Register(&Session{ID: "abc", Peer: first, ConnectedAt: epoch}); superseded != nil {
		t.Fatalf("first registration superseded %v", superseded)
	}
	superseded := registry.Register(&Session{ID: "abc", Peer: second, ConnectedAt: epoch.Add(time.Second)})
	if superseded == nil || superseded.Peer != first {
		t.Fatalf("superseded = %v, want the first registration", superseded)
	}

	if registry.Len() != 1 {
		t.Fatalf("Len = %d, want exactly one entry", registry.Len())
	}
	peer, ok := registry.Peer("abc")
	if !ok || peer != second {
		t.Fatalf("Peer(abc) = %v, want the most recent registration", peer)
	}
	if len(first.sent) != 0 {
		t.Errorf("registry sent %d messages to the superseded peer", len(first.sent))
	}
}

func TestRegistryReRegisterSamePeer(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	peer := &fakePeer{}
	registry.Register(&Session{ID: "abc", Peer: peer, ConnectedAt: epoch})
	registry.Touch("abc", peer, epoch.Add(time.Second))

	if superseded := registry.Register(&Session{ID: "abc", Peer: peer, ConnectedAt: epoch.Add(time.Minute), Capabilities: []string{"cbor"}}); superseded != nil {
		t.Fatalf("same-peer re-registration reported supersession")
	}
	info, ok := registry.Info("abc", epoch.Add(time.Minute), time.Hour)
	if !ok {
		t.Fatal("session missing after re-registration")
	}
	if !info.ConnectedAt.Equal(epoch) {
		t.Errorf("ConnectedAt = %v, want original %v", info.ConnectedAt, epoch)
	}
	if info.Updates != 1 {
		t.Errorf("Updates = %d, want 1 carried over", info.Updates)
	}
	if len(info.Capabilities) != 1 || info.Capabilities[0] != "cbor" {
		t.Errorf("Capabilities = %v, want the re-registered set", info.Capabilities)
	}
}

func TestRegistryRemoveOnlyByOwner(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	old := &fakePeer{name: "old"}
	current := &fakePeer{name: "current"}
	registry.Register(&Session{ID: "abc", Peer: old})
	registry.Register(&Session{ID: "abc", Peer: current})

	if registry.Remove("abc", old) {
		t.Fatal("superseded peer evicted its successor")
	}
	if registry.Len() != 1 {
		t.Fatalf("Len = %d after stale remove", registry.Len())
	}
	if !registry.Remove("abc", current) {
		t.Fatal("owner could not remove its session")
	}
	if registry.Len() != 0 {
		t.Fatalf("Len = %d after owner remove", registry.Len())
	}
	if registry.Remove("abc", current) {
		t.Error("second remove reported success")
	}
}

func TestRegistryTouch(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	owner := &fakePeer{}
	registry.Register(&Session{ID: "abc", Peer: owner, ConnectedAt: epoch, LastActivityAt: epoch})

	if registry.Touch("abc", &fakePeer{}, epoch.Add(time.Second)) {
		t.Error("Touch from a foreign peer succeeded")
	}
	if registry.Touch("missing", nil, epoch) {
		t.Error("Touch of an unknown session succeeded")
	}
	if !registry.Touch("abc", nil, epoch.Add(2*time.Second)) {
		t.Error("ownerless Touch failed")
	}
	if !registry.Touch("abc", owner, epoch.Add(3*time.Second)) {
		t.Error("owner Touch failed")
	}

	info, _ := registry.Info("abc", epoch.Add(3*time.Second), time.Minute)
	if info.Updates != 2 {
		t.Errorf("Updates = %d, want 2", info.Updates)
	}
	if !info.LastActivityAt.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("LastActivityAt = %v", info.LastActivityAt)
	}
}

func TestSessionStateLabels(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	peer := &fakePeer{}
	registry.Register(&Session{ID: "abc", Peer: peer, ConnectedAt: epoch, LastActivityAt: epoch})

	tests := []struct {
		name  string
		touch bool
		now   time.Time
		want  telemetry.SessionState
	}{
		{name: "no updates yet", now: epoch.Add(time.Hour), want: telemetry.SessionRegistered},
		{name: "recent update", touch: true, now: epoch.Add(10 * time.Second), want: telemetry.SessionActive},
		{name: "quiet past idle threshold", now: epoch.Add(2 * time.Minute), want: telemetry.SessionIdle},
	}
	for _, test := range tests {
		if test.touch {
			registry.Touch("abc", peer, epoch)
		}
		info, _ := registry.Info("abc", test.now, time.Minute)
		if info.State != test.want {
			t.Errorf("%s: State = %q, want %q", test.name, info.State, test.want)
		}
	}
}

func TestRegistryListSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		registry.Register(&Session{ID: id, Peer: &fakePeer{}})
	}
	list := registry.List(epoch, time.Minute)
	if len(list) != 3 {
		t.Fatalf("List length = %d", len(list))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if list[i].ID != want {
			t.Errorf("List[%d] = %q, want %q", i, list[i].ID, want)
		}
	}
}
