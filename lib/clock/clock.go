// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() with deterministic time control.
//
// Production functions that call time.Now, time.After, or time.Sleep
// should accept a Clock parameter (or be a method on a struct with a
// Clock field) instead of calling the time package directly. Pure
// verification functions take an explicit now time.Time instead; a
// Clock is for code that waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
