// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time stands still
// until Advance is called; sleepers and After channels registered
// before the advance fire when their deadline is reached.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter

	// registered counts every waiter ever added, for WaitForWaiters.
	registered int
	cond       *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once Advance moves the clock to
// or past the deadline. A non-positive d fires immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.now.Add(d), ch: ch})
	c.registered++
	c.cond.Broadcast()
	return ch
}

// Sleep blocks until Advance moves the clock past the deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline has been reached, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

// WaitForWaiters blocks until at least n waiters have been registered
// over the clock's lifetime. Call it before Advance when the sleeper
// runs in another goroutine, to avoid racing the registration.
func (c *FakeClock) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.registered < n {
		c.cond.Wait()
	}
}
