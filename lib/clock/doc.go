// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every component that schedules
// work: the transport's flush timer and retry driver, the client
// health monitor, and the hub's liveness sweep.
//
// Components hold a [Clock] and never call time.Now, time.AfterFunc or
// time.NewTicker directly. [Real] delegates to the time package. [Fake]
// returns a [FakeClock] that only moves when a test calls Advance, so
// "batch timeout elapsed" and "retry became eligible" are deterministic
// events rather than sleeps:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	pipe := transport.New(transport.Config{Clock: fake, ...})
//	pipe.Send(item)
//	fake.WaitForTimers(1)        // flush timer registered
//	fake.Advance(time.Second)    // flush timer fires
package clock
