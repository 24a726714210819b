package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fired []string

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	c.Advance(1500 * time.Millisecond)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("Expected [a] after 1.5s, got %v", fired)
	}

	c.Advance(2 * time.Second)
	if len(fired) != 3 || fired[1] != "b" || fired[2] != "c" {
		t.Fatalf("Expected [a b c], got %v", fired)
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Expected Stop to report the timer was active")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("Stopped timer fired")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}
}

func TestFakeRearmFromCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	if count != 5 {
		t.Errorf("Expected 5 ticks, got %d", count)
	}
	if got := c.Now(); !got.Equal(time.Unix(5, 0)) {
		t.Errorf("Expected now=5s, got %v", got)
	}
}
