// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package changedetect

import (
	"reflect"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/browserpipe/browserpipe/lib/codec"
)

// Value is a tracked value and when it was observed (Unix ms).
type Value struct {
	Value     any   `json:"value"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Snapshot maps key to value for one namespace. Snapshots are
// replaced wholesale, never mutated after being handed to a Tracker.
type Snapshot map[string]Value

// Clone returns a shallow copy. Values are treated as immutable.
func (s Snapshot) Clone() Snapshot {
	clone := make(Snapshot, len(s))
	for key, value := range s {
		clone[key] = value
	}
	return clone
}

// Change is one key's transition. Added changes carry Value, deleted
// changes carry OldValue, modified changes carry both.
type Change struct {
	Key       string `json:"key"`
	Value     any    `json:"value,omitempty"`
	OldValue  any    `json:"oldValue,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Result is the diff between two snapshots. Each list is sorted by
// key.
type Result struct {
	Added    []Change `json:"added"`
	Modified []Change `json:"modified"`
	Deleted  []Change `json:"deleted"`
}

// HasChanges reports whether any list is non-empty.
func (r Result) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Modified) > 0 || len(r.Deleted) > 0
}

// Len returns the total number of changes.
func (r Result) Len() int {
	return len(r.Added) + len(r.Modified) + len(r.Deleted)
}

// Diff computes the changes that turn previous into current.
func Diff(previous, current Snapshot) Result {
	result := emptyResult()

	for _, key := range sortedKeys(current) {
		now := current[key]
		before, existed := previous[key]
		switch {
		case !existed:
			result.Added = append(result.Added, Change{
				Key:       key,
				Value:     now.Value,
				Timestamp: now.Timestamp,
			})
		case !Equal(before.Value, now.Value):
			result.Modified = append(result.Modified, Change{
				Key:       key,
				Value:     now.Value,
				OldValue:  before.Value,
				Timestamp: now.Timestamp,
			})
		}
	}

	for _, key := range sortedKeys(previous) {
		if _, exists := current[key]; !exists {
			before := previous[key]
			result.Deleted = append(result.Deleted, Change{
				Key:       key,
				OldValue:  before.Value,
				Timestamp: before.Timestamp,
			})
		}
	}

	return result
}

// emptyResult has non-nil lists so JSON carries [] rather than null.
func emptyResult() Result {
	return Result{Added: []Change{}, Modified: []Change{}, Deleted: []Change{}}
}

// Apply returns base with the result's changes applied. Applying
// Diff(p, c) to p reproduces c's keys and values.
func (r Result) Apply(base Snapshot) Snapshot {
	next := base.Clone()
	for _, change := range r.Deleted {
		delete(next, change.Key)
	}
	for _, change := range r.Added {
		next[change.Key] = Value{Value: change.Value, Timestamp: change.Timestamp}
	}
	for _, change := range r.Modified {
		next[change.Key] = Value{Value: change.Value, Timestamp: change.Timestamp}
	}
	return next
}

// Equal reports whether a and b hold the same content. Values that
// cannot be CBOR-encoded (channels, functions) fall back to
// reflect.DeepEqual.
func Equal(a, b any) bool {
	fingerprintA, okA := Fingerprint(a)
	fingerprintB, okB := Fingerprint(b)
	if okA && okB {
		return fingerprintA == fingerprintB
	}
	return reflect.DeepEqual(a, b)
}

// Fingerprint returns the BLAKE3 hash of v's deterministic CBOR
// encoding. ok is false when v cannot be encoded.
func Fingerprint(v any) (fingerprint [32]byte, ok bool) {
	encoded, err := codec.Marshal(v)
	if err != nil {
		return fingerprint, false
	}
	return blake3.Sum256(encoded), true
}

func sortedKeys(s Snapshot) []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
