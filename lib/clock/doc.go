// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that timeouts and
// backoff delays can be driven deterministically in tests.
//
// Production code holds a [Clock] and calls it instead of time.Now,
// time.After or time.AfterFunc. [Real] forwards to the time package.
// [Fake] returns a [FakeClock] whose time only moves when the test calls
// Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	registry := session.NewRegistry(session.Config{Clock: fake, ...})
//	// ... trigger a permission request ...
//	fake.WaitForTimers(1)           // the interaction timer is armed
//	fake.Advance(5 * time.Minute)   // fire it
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
