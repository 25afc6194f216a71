// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var start = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(start)
	if !c.Now().Equal(start) {
		t.Errorf("Now = %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Now = %v after advance, want %v", c.Now(), want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(start)
	ch := c.After(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(start.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", fired, start.Add(time.Minute))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterImmediateForNonPositive(t *testing.T) {
	c := Fake(start)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSleepAcrossGoroutine(t *testing.T) {
	c := Fake(start)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Second)
		close(done)
	}()

	c.WaitForWaiters(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper did not wake after Advance")
	}
}

func TestFakeMultipleWaiters(t *testing.T) {
	c := Fake(start)
	early := c.After(time.Second)
	late := c.After(time.Hour)

	c.Advance(time.Minute)
	select {
	case <-early:
	default:
		t.Error("early waiter did not fire")
	}
	select {
	case <-late:
		t.Error("late waiter fired early")
	default:
	}
}
