package helpers

import (
	"sync"
	"time"

	"github.com/temoto/atomic_clock"
)

// Backoff is limited exponential delay between reconnect attempts.
// Delay starts at Min after first failure, grows by K up to Max, success resets it.
//
//	for {
//	  time.Sleep(backoff.DelayBefore())
//	  err := connect()
//	  backoff.Update(err == nil)
//	}
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   float64

	mu       sync.Mutex
	last     atomic_clock.Clock
	next     time.Duration
	failures int
}

// DelayBefore is remaining pause since last Update, 0 when no failures.
func (b *Backoff) DelayBefore() time.Duration {
	b.mu.Lock()
	next := b.next
	b.mu.Unlock()
	if next == 0 {
		return 0
	}
	since := atomic_clock.Since(&b.last)
	if since >= next {
		return 0
	}
	return (next - since).Truncate(time.Millisecond)
}

func (b *Backoff) Update(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last.SetNow()
	if success {
		b.next, b.failures = 0, 0
		return
	}
	b.failures++
	if b.next == 0 {
		b.next = b.Min
	} else {
		k := b.K
		if k < 1 {
			k = 2
		}
		b.next = time.Duration(float64(b.next) * k)
	}
	if b.Max != 0 && b.next > b.Max {
		b.next = b.Max
	}
}

// Failures since last success.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
