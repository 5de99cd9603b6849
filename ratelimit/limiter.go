package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gatehouse/gatehouse/admission"
	"github.com/gatehouse/gatehouse/clock"
	"github.com/gatehouse/gatehouse/security"
)

// DefaultSweepInterval is how often StartSweeper reclaims expired entries
// when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// sweepBatch bounds how many entries a sweep deletes per lock acquisition so
// maintenance never stalls request-path progress.
const sweepBatch = 256

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter over per-key entries. The
// read-check-increment sequence for a key is atomic under one mutex, so two
// concurrent requests can never both be admitted past MaxRequests.
//
// Limiter implements admission.Gate. Build one per process (or per test) and
// share it across requests.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	policy   Policy
	classify Classifier
	clk      clock.Clock
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source. Tests use clock.NewManual.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clk = c }
}

// WithClassifier overrides the route classifier.
func WithClassifier(fn Classifier) Option {
	return func(l *Limiter) { l.classify = fn }
}

// New creates a Limiter enforcing the given policy. A nil policy uses
// DefaultPolicy.
func New(policy Policy, opts ...Option) *Limiter {
	if policy == nil {
		policy = DefaultPolicy()
	}
	l := &Limiter{
		entries:  make(map[string]*entry),
		policy:   policy,
		classify: ClassifyPath,
		clk:      clock.System(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements admission.Gate.
func (l *Limiter) Name() string { return "ratelimit" }

// Check derives the request's key (client address + route class), consumes
// one unit of quota, and returns the decision. The decision carries
// X-RateLimit-* headers on allow and deny alike; denials add Retry-After.
func (l *Limiter) Check(r *http.Request) admission.Decision {
	class := l.classify(r.URL.Path)
	cfg := l.policy.For(class)
	key := Key(security.ClientAddr(r), class)

	allowed, remaining, resetAt, retry := l.take(key, cfg)

	d := admission.Allow()
	if !allowed {
		d = admission.Deny(http.StatusTooManyRequests, admission.ReasonRateLimited, cfg.Message)
		d.RetryAfter = retry
	}
	d = d.WithHeader("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
	d = d.WithHeader("X-RateLimit-Remaining", strconv.Itoa(remaining))
	d = d.WithHeader("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	return d
}

// take is the atomic read-check-increment for one key.
func (l *Limiter) take(key string, cfg Config) (allowed bool, remaining int, resetAt time.Time, retry time.Duration) {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	if e == nil || !now.Before(e.resetAt) {
		// Absent or elapsed: replace with a fresh window. With a monotonic
		// clock now >= resetAt here, so resetAt strictly increases across
		// replacements; a wall-clock rollback never lands in this branch
		// early because time.Time comparisons use the monotonic reading.
		e = &entry{count: 1, resetAt: now.Add(cfg.Window)}
		l.entries[key] = e
		return true, cfg.MaxRequests - 1, e.resetAt, 0
	}

	e.count++
	if e.count <= cfg.MaxRequests {
		return true, cfg.MaxRequests - e.count, e.resetAt, 0
	}
	return false, 0, e.resetAt, e.resetAt.Sub(now)
}

// Len reports the number of live entries; used by tests and gauges.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep deletes entries whose window has elapsed and returns how many were
// removed. Candidates are collected first, then deleted in bounded batches so
// the lock is never held across the whole map.
func (l *Limiter) Sweep() int {
	now := l.clk.Now()

	l.mu.Lock()
	expired := make([]string, 0, len(l.entries)/4)
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			expired = append(expired, k)
		}
	}
	l.mu.Unlock()

	removed := 0
	for start := 0; start < len(expired); start += sweepBatch {
		end := start + sweepBatch
		if end > len(expired) {
			end = len(expired)
		}
		l.mu.Lock()
		for _, k := range expired[start:end] {
			// Re-check: the entry may have been replaced by a fresh window
			// between the scan and this batch.
			if e, ok := l.entries[k]; ok && !l.clk.Now().Before(e.resetAt) {
				delete(l.entries, k)
				removed++
			}
		}
		l.mu.Unlock()
	}
	return removed
}

// StartSweeper runs Sweep on a ticker until ctx is done. Pass every <= 0 for
// DefaultSweepInterval. Best-effort: a sweep overlapping heavy traffic simply
// reclaims less.
func (l *Limiter) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}
