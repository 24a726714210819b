package live

import (
	"fmt"
	"time"

	"github.com/drewfead/autocoder/internal/config"
)

// Phase is the position of a subscription in its connect/retry cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseBackoff
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// Retry is the reconnect state machine {idle, connecting, connected, backoff(n)}.
// The attempt count is unbounded; delays are capped at the configured maximum.
type Retry struct {
	policy  config.BackoffConfig
	phase   Phase
	attempt int
}

// NewRetry creates an idle state machine.
func NewRetry(policy config.BackoffConfig) *Retry {
	if policy.Initial <= 0 {
		policy.Initial = time.Second
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	return &Retry{policy: policy}
}

// Phase returns the current phase.
func (r *Retry) Phase() Phase { return r.phase }

// Attempt returns the number of consecutive failures, n in backoff(n).
func (r *Retry) Attempt() int { return r.attempt }

func (r *Retry) String() string {
	if r.phase == PhaseBackoff {
		return fmt.Sprintf("backoff(%d)", r.attempt)
	}
	return r.phase.String()
}

// Connecting moves to connecting from idle or backoff.
func (r *Retry) Connecting() {
	r.phase = PhaseConnecting
}

// Connected records a successful dial and clears the failure count.
func (r *Retry) Connected() {
	r.phase = PhaseConnected
	r.attempt = 0
}

// Failed records a failed dial or a lost connection and returns how long to
// wait before the next attempt.
func (r *Retry) Failed() time.Duration {
	r.phase = PhaseBackoff
	r.attempt++
	return r.delay(r.attempt)
}

// Reset returns to idle, e.g. when the subscription is torn down.
func (r *Retry) Reset() {
	r.phase = PhaseIdle
	r.attempt = 0
}

func (r *Retry) delay(attempt int) time.Duration {
	d := r.policy.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * r.policy.Multiplier)
		if d >= r.policy.Max {
			return r.policy.Max
		}
	}
	return min(d, r.policy.Max)
}
