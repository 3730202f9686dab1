// Package ratelimit implements the shared sliding-window limiter which caps
// the combined rate of outbound calls to LLM and embedding providers.
//
// One Limiter is shared by every provider adapter in the process. Service
// tags passed to Request exist for statistics only; they never grant
// additional budget.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Window is the span over which requests are counted.
const Window = time.Minute

// jitterMax bounds the random jitter added to reserved slots, which spreads
// out waiters that reserve at the same instant.
const jitterMax = 100 * time.Millisecond

type entry struct {
	at  time.Time
	tag string
}

// Limiter is a sliding-window rate limiter. Under budget, Request admits
// immediately. At budget, it reserves a future slot paced at MinDelay
// intervals and tells the caller how long to sleep.
type Limiter struct {
	maxRPM   int
	minDelay time.Duration

	mu      sync.Mutex
	entries []entry

	// now is stubbed by tests.
	now func() time.Time
}

// New returns a Limiter admitting at most maxRPM requests per Window.
func New(maxRPM int) *Limiter {
	if maxRPM <= 0 {
		maxRPM = 1
	}
	var l = &Limiter{
		maxRPM:   maxRPM,
		minDelay: time.Duration(float64(Window) / float64(maxRPM) * 1.1),
		now:      time.Now,
	}
	log.WithFields(log.Fields{
		"maxRPM":   maxRPM,
		"minDelay": l.minDelay,
	}).Info("rate limiter initialized")
	return l
}

// MinDelay is the pacing interval applied to reservations made at budget:
// Window / maxRPM with a 10% buffer.
func (l *Limiter) MinDelay() time.Duration { return l.minDelay }

// Request asks for one outbound slot under |tag|. It returns zero when the
// request may proceed immediately, or the duration the caller must sleep
// before performing its call. The slot is reserved either way; Request never
// blocks and never fails.
func (l *Limiter) Request(tag string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	var now = l.now()
	l.trim(now)

	if len(l.entries) < l.maxRPM {
		l.entries = append(l.entries, entry{at: now, tag: tag})
		return 0
	}

	// At budget. Reserve the next slot at minDelay spacing after the most
	// recent entry (which may itself be a reservation), so that admissions
	// are paced below maxRPM over any rolling Window.
	var base = l.entries[len(l.entries)-1].at
	if base.Before(now) {
		base = now
	}
	var reserved = base.Add(l.minDelay + time.Duration(rand.Int63n(int64(jitterMax))))
	l.entries = append(l.entries, entry{at: reserved, tag: tag})

	var delay = reserved.Sub(now)
	log.WithFields(log.Fields{
		"tag":     tag,
		"delay":   delay,
		"current": len(l.entries),
		"maxRPM":  l.maxRPM,
	}).Warn("rate limit reached; delaying request")

	return delay
}

// Wait acquires a slot under |tag| and sleeps out any returned delay.
// The sleep happens outside the limiter lock. If |ctx| is cancelled during
// the sleep the reservation is abandoned but not rolled back: sacrificing
// one slot is bounded and acceptable.
func (l *Limiter) Wait(ctx context.Context, tag string) error {
	var delay = l.Request(tag)
	if delay <= 0 {
		return nil
	}
	var timer = time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trim drops entries which have fallen out of the window.
// Callers must hold l.mu.
func (l *Limiter) trim(now time.Time) {
	var cutoff = now.Add(-Window)
	var i = 0
	for i < len(l.entries) && l.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

// GlobalStats describes the limiter as a whole.
type GlobalStats struct {
	CurrentRPM         int     `json:"current_rpm"`
	MaxRPM             int     `json:"max_rpm"`
	UtilizationPercent float64 `json:"utilization_percent"`
	MinDelaySeconds    float64 `json:"min_delay_seconds"`
}

// ServiceStats describes one service tag.
type ServiceStats struct {
	CurrentRPM int `json:"current_rpm"`
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	Global   GlobalStats             `json:"global"`
	Services map[string]ServiceStats `json:"services"`
}

// Stats returns a snapshot. Future reservations are excluded from RPM
// counts: they describe requests that have not yet gone out.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var now = l.now()
	l.trim(now)

	var services = make(map[string]ServiceStats)
	var current int
	for _, e := range l.entries {
		if e.at.After(now) {
			continue
		}
		current++
		var s = services[e.tag]
		s.CurrentRPM++
		services[e.tag] = s
	}

	return Stats{
		Global: GlobalStats{
			CurrentRPM:         current,
			MaxRPM:             l.maxRPM,
			UtilizationPercent: float64(current) / float64(l.maxRPM) * 100,
			MinDelaySeconds:    l.minDelay.Seconds(),
		},
		Services: services,
	}
}
