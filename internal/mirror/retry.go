package mirror

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultFailureCeiling   = 10
	DefaultExtendedCooldown = 300 * time.Second
)

// RetryPolicy tracks consecutive fully failed passes and decides how long to
// wait before the next one. Degraded passes where at least one target
// succeeded never count towards the ceiling.
type RetryPolicy struct {
	mu         sync.Mutex
	interval   time.Duration
	cooldown   time.Duration
	ceiling    int
	failures   int
	onCooldown func(consecutive int)
}

func NewRetryPolicy(interval, cooldown time.Duration, ceiling int) *RetryPolicy {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultExtendedCooldown
	}
	if ceiling <= 0 {
		ceiling = DefaultFailureCeiling
	}
	return &RetryPolicy{interval: interval, cooldown: cooldown, ceiling: ceiling}
}

// OnCooldown registers a hook fired once each time the failure ceiling trips.
// The hook runs outside the policy lock.
func (p *RetryPolicy) OnCooldown(fn func(consecutive int)) {
	p.mu.Lock()
	p.onCooldown = fn
	p.mu.Unlock()
}

// Observe records the outcome of a pass and returns the delay before the next
// one. Any outcome with at least one non-failed target resets the counter and
// returns the base interval. A fully failed pass increments it; when the
// counter reaches the ceiling the policy enters an extended cooldown and the
// counter starts over.
func (p *RetryPolicy) Observe(outcome PassOutcome) time.Duration {
	p.mu.Lock()

	if outcome != PassAllFailed {
		p.failures = 0
		p.mu.Unlock()
		return p.interval
	}

	p.failures++
	if p.failures < p.ceiling {
		n := p.failures
		p.mu.Unlock()
		slog.Debug("all targets failed", "consecutive", n, "ceiling", p.ceiling)
		return p.interval
	}

	hook := p.onCooldown
	ceiling := p.ceiling
	p.failures = 0
	p.mu.Unlock()

	slog.Warn("all targets failed in every recent pass, entering extended cooldown",
		"consecutive", ceiling,
		"cooldown", p.cooldown)
	if hook != nil {
		hook(ceiling)
	}
	return p.cooldown
}

// ConsecutiveFailures returns the current run of fully failed passes.
func (p *RetryPolicy) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *RetryPolicy) Interval() time.Duration {
	return p.interval
}
