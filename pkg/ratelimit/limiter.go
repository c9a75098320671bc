// Package ratelimit implements priority-aware admission throttling
// (§4.2 stage 4): a global cap, per-producer limits, and per-component
// quotas, each checked in turn. CRITICAL priority is never dropped; WARN
// is dropped only once the global limiter is above 90% utilization; INFO
// is dropped first. This tiering supplements the bare "rate limit
// exceeded" language of the base admission contract so that a flood of
// low-priority telemetry cannot starve a CRITICAL detection signal.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ransomeye/core/pkg/rerrors"
)

// Priority is the fixed three-tier priority vocabulary. An unrecognized
// value is treated as PriorityInfo (fail-closed: the lowest tier).
type Priority string

const (
	PriorityInfo     Priority = "INFO"
	PriorityWarn     Priority = "WARN"
	PriorityCritical Priority = "CRITICAL"
)

func normalizePriority(p Priority) Priority {
	switch p {
	case PriorityInfo, PriorityWarn, PriorityCritical:
		return p
	default:
		return PriorityInfo
	}
}

// Config carries the limits a Limiter enforces, all expressed per window.
type Config struct {
	GlobalLimit    int
	ProducerLimit  int
	ComponentLimit int
	Window         time.Duration
}

// Limiter composes a global cap with per-producer and per-component-type
// limiters, each backed by golang.org/x/time/rate.
type Limiter struct {
	cfg Config

	mu         sync.Mutex
	global     *rate.Limiter
	producers  map[string]*rate.Limiter
	components map[string]*rate.Limiter
}

// New builds a Limiter. Each tier's burst equals its configured limit, and
// its refill rate spreads that limit evenly across Window, approximating
// the fixed-window counters this scheme is modeled on with a smoother,
// non-bursty admission curve.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:        cfg,
		global:     rate.NewLimiter(perTick(cfg.GlobalLimit, cfg.Window), cfg.GlobalLimit),
		producers:  make(map[string]*rate.Limiter),
		components: make(map[string]*rate.Limiter),
	}
}

func perTick(limit int, window time.Duration) rate.Limit {
	if limit <= 0 || window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(limit))
}

func (l *Limiter) producerLimiter(producerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.producers[producerID]
	if !ok {
		lim = rate.NewLimiter(perTick(l.cfg.ProducerLimit, l.cfg.Window), l.cfg.ProducerLimit)
		l.producers[producerID] = lim
	}
	return lim
}

func (l *Limiter) componentLimiter(componentType string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.components[componentType]
	if !ok {
		lim = rate.NewLimiter(perTick(l.cfg.ComponentLimit, l.cfg.Window), l.cfg.ComponentLimit)
		l.components[componentType] = lim
	}
	return lim
}

// shouldDropWarn reports whether the global limiter is saturated enough
// (>90% of burst consumed, i.e. fewer than 10% of tokens remain) to start
// shedding WARN-priority traffic.
func (l *Limiter) shouldDropWarn() bool {
	if l.cfg.GlobalLimit <= 0 {
		return false
	}
	remaining := l.global.Tokens()
	return remaining/float64(l.cfg.GlobalLimit) < 0.1
}

// admit applies the WARN/INFO forcing rules around one tier's Allow()
// result. CRITICAL is handled by the caller before any token is
// consumed, so it never counts against a tier's capacity.
func (l *Limiter) admit(lim *rate.Limiter, priority Priority) bool {
	if priority == PriorityCritical {
		return true
	}
	if lim.Allow() {
		return true
	}
	if priority == PriorityWarn {
		return !l.shouldDropWarn()
	}
	return false
}

// Check runs the global, producer, and component checks in order,
// returning RateLimitExceeded if any tier drops the event for the given
// priority.
func (l *Limiter) Check(producerID, componentType string, priority Priority) error {
	p := normalizePriority(priority)

	if !l.admit(l.global, p) {
		return rerrors.New("ratelimit.Limiter.Check", rerrors.RateLimitExceeded, nil)
	}
	if !l.admit(l.producerLimiter(producerID), p) {
		return rerrors.New("ratelimit.Limiter.Check", rerrors.RateLimitExceeded, nil)
	}
	if !l.admit(l.componentLimiter(componentType), p) {
		return rerrors.New("ratelimit.Limiter.Check", rerrors.RateLimitExceeded, nil)
	}
	return nil
}
