// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for
// testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, or time.Sleep directly. In production,
// Real() provides the standard library behavior. In tests, Fake()
// provides a deterministic clock that advances only when Advance is
// called.
//
// When a goroutine calls Sleep or After on a FakeClock, it registers a
// waiter. Use WaitForWaiters to block until a specific number of
// waiters are registered before calling Advance; this eliminates the
// race between registration and time advancement that plagues tests
// using time.Sleep for synchronization.
//
// Verification functions (signature checks, expiry checks) do not take
// a Clock: they take an explicit now time.Time, which is simpler to
// test and keeps them pure. A Clock is for code that waits, such as
// the sync retry loop.
package clock
