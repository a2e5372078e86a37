// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/codec"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// State is the global mirror of what sessions have reported:
// namespace -> key -> latest value. It is best effort. Entries are
// never expired and are not rolled back when their session leaves.
type State struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]telemetry.StateEntry
}

// NewState returns an empty state.
func NewState() *State {
	return &State{namespaces: make(map[string]map[string]telemetry.StateEntry)}
}

// Merge applies one update. Storage subtypes carry a change-detector
// result: added and modified keys are replaced and stamped with now
// and sessionID, deleted keys are removed. Any other subtype is
// stored verbatim under its own namespace, keyed by session. Returns
// the decoded change set, or nil for a verbatim subtype.
func (s *State) Merge(subtype, sessionID string, payload any, now time.Time) (*changedetect.Result, error) {
	if !telemetry.IsStorageSubtype(subtype) {
		s.StoreVerbatim(subtype, sessionID, subtype, sessionID, payload, now)
		return nil, nil
	}

	var result changedetect.Result
	if err := codec.Convert(payload, &result); err != nil {
		return nil, fmt.Errorf("%s payload is not a change set: %w", subtype, err)
	}
	s.Apply(subtype, subtype, sessionID, result, now)
	return &result, nil
}

// Apply merges a change-detector result into namespace.
func (s *State) Apply(namespace, subtype, sessionID string, result changedetect.Result, now time.Time) int {
	stamp := telemetry.Millis(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.namespaceLocked(namespace)
	for _, changes := range [][]changedetect.Change{result.Added, result.Modified} {
		for _, change := range changes {
			entries[change.Key] = telemetry.StateEntry{
				Value:     change.Value,
				UpdatedBy: sessionID,
				UpdatedAt: stamp,
				Subtype:   subtype,
			}
		}
	}
	for _, change := range result.Deleted {
		delete(entries, change.Key)
	}
	return result.Len()
}

// StoreVerbatim records value under namespace/key without
// interpretation.
func (s *State) StoreVerbatim(namespace, key, subtype, sessionID string, value any, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.namespaceLocked(namespace)[key] = telemetry.StateEntry{
		Value:     value,
		UpdatedBy: sessionID,
		UpdatedAt: telemetry.Millis(now),
		Subtype:   subtype,
	}
}

func (s *State) namespaceLocked(namespace string) map[string]telemetry.StateEntry {
	entries, exists := s.namespaces[namespace]
	if !exists {
		entries = make(map[string]telemetry.StateEntry)
		s.namespaces[namespace] = entries
	}
	return entries
}

// Snapshot copies the state. An empty namespace selects everything;
// otherwise only that namespace is returned (possibly empty).
func (s *State) Snapshot(namespace string) telemetry.GlobalState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(telemetry.GlobalState)
	for name, entries := range s.namespaces {
		if namespace != "" && name != namespace {
			continue
		}
		copied := make(map[string]telemetry.StateEntry, len(entries))
		for key, entry := range entries {
			copied[key] = entry
		}
		snapshot[name] = copied
	}
	return snapshot
}

// Get returns one entry.
func (s *State) Get(namespace, key string) (telemetry.StateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.namespaces[namespace][key]
	return entry, exists
}

// Clear removes one namespace, or everything when namespace is empty.
// Returns the number of keys removed.
func (s *State) Clear(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, entries := range s.namespaces {
		if namespace != "" && name != namespace {
			continue
		}
		removed += len(entries)
		delete(s.namespaces, name)
	}
	return removed
}

// Counts returns the number of namespaces and keys.
func (s *State) Counts() (namespaces, keys int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entries := range s.namespaces {
		keys += len(entries)
	}
	return len(s.namespaces), keys
}
