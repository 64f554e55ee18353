package livesync

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential reconnect schedule with jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter in [0,1] shortens each delay by up to that fraction.
	Jitter float64
}

// DefaultBackoff starts at 500ms and doubles up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.2}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max < b.Initial {
		b.Max = max(d.Max, b.Initial)
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	b.Jitter = min(max(b.Jitter, 0), 1)
	return b
}

// Delay returns the wait before reconnect attempt n (0-based).
// rnd returns values in [0,1); nil uses math/rand.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	b = b.normalized()
	if rnd == nil {
		rnd = rand.Float64
	}

	d := float64(b.Initial) * math.Pow(b.Factor, float64(max(attempt, 0)))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	d -= d * b.Jitter * rnd()
	return time.Duration(d)
}
