package vectorstore

import (
	"errors"
	"sync"
	"time"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 60 * time.Second
)

var errBreakerOpen = errors.New("circuit breaker open")

// breaker is a per-endpoint circuit breaker. It opens after
// breakerThreshold consecutive failures, stays open for breakerCooldown,
// then half-opens to admit a single probe.
type breaker struct {
	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time // Stubbed by tests.
}

func newBreaker() *breaker {
	return &breaker{now: time.Now}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < breakerThreshold {
		return true
	}
	if b.probing {
		return false
	}
	if b.now().Sub(b.openedAt) >= breakerCooldown {
		b.probing = true
		return true
	}
	return false
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= breakerThreshold {
		b.openedAt = b.now()
	}
	b.probing = false
}
