// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the stores and the update scheduler read time
// through an interface so tests can drive it.
//
// Production code uses [Real]. Tests use [Fake], whose time stands
// still until [FakeClock.Advance] is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := localserver.NewScheduler(..., fake, ...)
//	go scheduler.Run(ctx)
//	fake.WaitForTimers(1)      // the scheduler has created its ticker
//	fake.Advance(time.Minute)  // deliver one tick
//
// WaitForTimers closes the race between a goroutine registering a
// ticker or After channel and the test advancing past it.
package clock
