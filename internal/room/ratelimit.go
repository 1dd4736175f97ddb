package room

import "time"

const (
	// limitRate is the steady-state command budget per user, tokens/second.
	limitRate = 4.0
	// limitBurst caps how far ahead a quiet user can run.
	limitBurst = 8.0
)

// tokenBucket is a minimal per-user command gate. It is only ever touched
// from the room's actor goroutine, so it carries no lock; time comes from
// the injected clock so tests can drive it.
type tokenBucket struct {
	tokens float64
	last   time.Time
}

func newTokenBucket(now time.Time) *tokenBucket {
	return &tokenBucket{tokens: limitBurst, last: now}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * limitRate
		if b.tokens > limitBurst {
			b.tokens = limitBurst
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
