package core

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// LogThrottle bounds the volume of security log writes so that a flood of
// rejected requests cannot turn the logger into a load amplifier. Events past
// the budget are counted and surfaced as a "dropped" attribute on the next
// emitted record.
//
// The throttle only gates whether a record is emitted; it never blocks the
// caller.
type LogThrottle struct {
	lim     *rate.Limiter
	dropped atomic.Int64
}

// NewLogThrottle creates a throttle allowing perSecond events with the given
// burst. perSecond <= 0 disables throttling.
func NewLogThrottle(perSecond float64, burst int) *LogThrottle {
	t := &LogThrottle{}
	if perSecond > 0 {
		t.lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return t
}

// Log writes a record through l if the budget allows, otherwise counts it as
// dropped.
func (t *LogThrottle) Log(ctx context.Context, l *slog.Logger, level slog.Level, msg string, attrs ...any) {
	if t == nil || t.lim == nil {
		l.Log(ctx, level, msg, attrs...)
		return
	}
	if !t.lim.Allow() {
		t.dropped.Add(1)
		return
	}
	if n := t.dropped.Swap(0); n > 0 {
		attrs = append(attrs, "dropped", n)
	}
	l.Log(ctx, level, msg, attrs...)
}
