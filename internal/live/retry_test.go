package live

import (
	"testing"
	"time"

	"github.com/drewfead/autocoder/internal/config"
)

func TestRetryTransitions(t *testing.T) {
	r := NewRetry(config.BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2})
	if r.String() != "idle" {
		t.Fatalf("Expected idle, got %s", r)
	}

	r.Connecting()
	if r.Phase() != PhaseConnecting {
		t.Fatalf("Expected connecting, got %s", r)
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, want := range expected {
		got := r.Failed()
		if got != want {
			t.Errorf("Failed() #%d = %s, want %s", i+1, got, want)
		}
		if r.Attempt() != i+1 {
			t.Errorf("Expected attempt %d, got %d", i+1, r.Attempt())
		}
		r.Connecting()
	}

	r.Failed()
	if r.String() != "backoff(8)" {
		t.Errorf("Expected backoff(8), got %s", r)
	}

	r.Connecting()
	r.Connected()
	if r.Phase() != PhaseConnected || r.Attempt() != 0 {
		t.Errorf("Expected connected with attempt 0, got %s attempt %d", r, r.Attempt())
	}
	if got := r.Failed(); got != time.Second {
		t.Errorf("Expected backoff to restart at 1s after a connection, got %s", got)
	}

	r.Reset()
	if r.Phase() != PhaseIdle || r.Attempt() != 0 {
		t.Errorf("Expected idle after reset, got %s", r)
	}
}

func TestRetryUnboundedAttempts(t *testing.T) {
	r := NewRetry(config.BackoffConfig{Initial: time.Millisecond, Max: time.Second, Multiplier: 2})
	var last time.Duration
	for i := 0; i < 500; i++ {
		last = r.Failed()
	}
	if last != time.Second {
		t.Errorf("Expected capped delay 1s, got %s", last)
	}
	if r.Attempt() != 500 {
		t.Errorf("Expected 500 attempts, got %d", r.Attempt())
	}
}

func TestRetryNormalizesPolicy(t *testing.T) {
	r := NewRetry(config.BackoffConfig{})
	if d := r.Failed(); d != time.Second {
		t.Errorf("Expected default 1s initial delay, got %s", d)
	}
	if d := r.Failed(); d != time.Second {
		t.Errorf("Expected flat delay with multiplier 1, got %s", d)
	}
}
