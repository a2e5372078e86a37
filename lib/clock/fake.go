// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order, so a callback must not call Advance or WaitForTimers itself.
//
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is one scheduled event. Exactly one of fire or deliver is
// set: fire for AfterFunc, deliver for After and tickers.
type fakeTimer struct {
	when    time.Time
	fire    func()
	deliver chan time.Time
	period  time.Duration // > 0 for tickers
	active  bool
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives when the clock reaches now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.scheduleLocked(&fakeTimer{when: c.now.Add(d), deliver: channel, active: true})
	return channel
}

// AfterFunc schedules f for now+d. A non-positive d runs f before
// AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	entry := &fakeTimer{when: c.now.Add(d), fire: f, active: true}
	c.scheduleLocked(entry)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			entry.active = false
			return wasActive
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			entry.when = c.now.Add(d)
			if !wasActive {
				entry.active = true
				c.scheduleLocked(entry)
			}
			return wasActive
		},
	}
}

// NewTicker returns a Ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires a positive interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	entry := &fakeTimer{when: c.now.Add(d), deliver: channel, period: d, active: true}
	c.scheduleLocked(entry)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.active = false
		},
	}
}

// Advance moves the clock forward by d and fires everything due, in
// deadline order. A ticker spanning several periods fires once per
// period; ticks that find C full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			if entry.fire != nil {
				entry.fire()
				continue
			}
			select {
			case entry.deliver <- target:
			default:
			}
		}
	}
}

// takeDue removes every active timer due at or before target and
// returns them sorted by deadline. Tickers are rescheduled for their
// next period; one-shot timers are marked inactive.
func (c *FakeClock) takeDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, kept []*fakeTimer
	for _, entry := range c.pending {
		switch {
		case !entry.active:
		case entry.when.After(target):
			kept = append(kept, entry)
		default:
			due = append(due, entry)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })

	for _, entry := range due {
		if entry.period > 0 {
			entry.when = entry.when.Add(entry.period)
			kept = append(kept, entry)
		} else {
			entry.active = false
		}
	}
	c.pending = kept
	return due
}

// WaitForTimers blocks until at least n timers are pending. Use it to
// wait for a goroutine to register its timer before calling Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// scheduleLocked adds entry to the pending list unless a stopped copy
// of it is still there waiting to be pruned.
func (c *FakeClock) scheduleLocked(entry *fakeTimer) {
	for _, existing := range c.pending {
		if existing == entry {
			c.changed.Broadcast()
			return
		}
	}
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, entry := range c.pending {
		if entry.active {
			count++
		}
	}
	return count
}
