// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package changedetect

import "sync"

// Tracker owns the previous snapshot of one namespace. Safe for
// concurrent use; the poll and intercept paths share one Tracker.
type Tracker struct {
	mu       sync.Mutex
	previous Snapshot
}

// NewTracker returns a tracker whose previous snapshot is empty, so
// the first Observe reports every key as added.
func NewTracker() *Tracker {
	return &Tracker{previous: Snapshot{}}
}

// Observe diffs current against the previous snapshot and makes
// current the new previous.
func (t *Tracker) Observe(current Snapshot) Result {
	next := current.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()

	result := Diff(t.previous, next)
	t.previous = next
	return result
}

// Set records a single-key write observed by a mutation hook and
// returns the change it represents (empty when the value is
// unchanged).
func (t *Tracker) Set(key string, value Value) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := emptyResult()
	before, existed := t.previous[key]
	switch {
	case !existed:
		result.Added = append(result.Added, Change{Key: key, Value: value.Value, Timestamp: value.Timestamp})
	case !Equal(before.Value, value.Value):
		result.Modified = append(result.Modified, Change{
			Key:       key,
			Value:     value.Value,
			OldValue:  before.Value,
			Timestamp: value.Timestamp,
		})
	}

	next := t.previous.Clone()
	next[key] = value
	t.previous = next
	return result
}

// Delete records a single-key removal observed by a mutation hook.
// Deleting an absent key is not a change.
func (t *Tracker) Delete(key string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := emptyResult()
	before, existed := t.previous[key]
	if !existed {
		return result
	}
	result.Deleted = append(result.Deleted, Change{Key: key, OldValue: before.Value, Timestamp: before.Timestamp})

	next := t.previous.Clone()
	delete(next, key)
	t.previous = next
	return result
}

// Snapshot returns a copy of the previous snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previous.Clone()
}

// Reset forgets the previous snapshot; the next Observe reports
// everything as added.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previous = Snapshot{}
}
