package admission

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatehouse/gatehouse/core"
	"github.com/gatehouse/gatehouse/security"
)

// Event describes one pipeline evaluation for the stats recorders.
type Event struct {
	Gate       string
	Outcome    Outcome
	Reason     Reason
	Method     string
	Path       string
	ClientAddr string
	At         time.Time
}

// Recorder receives one event per evaluated request. Implementations must be
// cheap and safe for concurrent use; errors are ignored by the pipeline
// (recording is best-effort, never load-bearing for the decision).
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Pipeline runs its gates in registration order and short-circuits on the
// first denial. The intended order is rate limiter first (cheapest, sheds
// abusive traffic), CSRF guard second, authorization last (most expensive).
//
// A Pipeline is an explicitly constructed value, not a process-wide
// singleton: tests build a fresh one per case.
type Pipeline struct {
	gates    []Gate
	recorder Recorder
	tracer   trace.Tracer
	throttle *core.LogThrottle
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches a stats recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithTracing enables an OpenTelemetry span per evaluation, named after the
// given instrumentation scope.
func WithTracing(scope string) Option {
	return func(p *Pipeline) { p.tracer = otel.Tracer(scope) }
}

// WithLogThrottle bounds rejection logging to perSecond events with the given
// burst. The default allows 10/s with a burst of 50.
func WithLogThrottle(perSecond float64, burst int) Option {
	return func(p *Pipeline) { p.throttle = core.NewLogThrottle(perSecond, burst) }
}

// New builds a pipeline over the given gates.
func New(gates []Gate, opts ...Option) *Pipeline {
	p := &Pipeline{gates: gates, throttle: core.NewLogThrottle(10, 50)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check evaluates the gates for r and returns the terminal decision.
// Informational headers contributed by earlier gates are merged into the
// returned decision whether it allows or denies.
func (p *Pipeline) Check(r *http.Request) Decision {
	merged := http.Header{}
	for _, g := range p.gates {
		d := g.Check(r)
		for k, vs := range d.Headers {
			merged[k] = vs
		}
		if !d.Allowed {
			d.Headers = merged
			p.finish(r, g.Name(), d)
			return d
		}
	}
	d := Allow()
	if len(merged) > 0 {
		d.Headers = merged
	}
	p.finish(r, "", d)
	return d
}

// Middleware wraps next so that only admitted requests reach it. Denials are
// rendered as the JSON error envelope; admissions carry the informational
// headers (remaining quota, reset time) on the eventual response.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.tracer != nil {
			ctx, span := p.tracer.Start(r.Context(), "admission.check",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))
			r = r.WithContext(ctx)
			defer span.End()

			d := p.Check(r)
			span.SetAttributes(
				attribute.String("admission.outcome", string(d.Outcome())),
				attribute.String("admission.reason", string(d.Reason)),
			)
			p.serve(w, r, d, next)
			return
		}
		p.serve(w, r, p.Check(r), next)
	})
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, d Decision, next http.Handler) {
	if !d.Allowed {
		WriteDecision(w, d)
		return
	}
	for k, vs := range d.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	next.ServeHTTP(w, r)
}

// finish records and logs the terminal outcome. Neither can block or change
// the decision.
func (p *Pipeline) finish(r *http.Request, gate string, d Decision) {
	if p.recorder != nil {
		_ = p.recorder.Record(r.Context(), Event{
			Gate:       gate,
			Outcome:    d.Outcome(),
			Reason:     d.Reason,
			Method:     r.Method,
			Path:       r.URL.Path,
			ClientAddr: security.ClientAddr(r),
			At:         time.Now(),
		})
	}
	if d.Allowed {
		return
	}
	l := core.LoggerFromContext(r.Context())
	p.throttle.Log(r.Context(), l, slog.LevelWarn, "request rejected",
		"gate", gate,
		"reason", string(d.Reason),
		"status", d.Status,
		"method", r.Method,
		"path", r.URL.Path,
		"origin", r.Header.Get("Origin"),
		"referer", r.Header.Get("Referer"),
		"user_agent", r.UserAgent(),
		"client_addr", security.ClientAddr(r),
	)
}

func ceilSeconds(d time.Duration) int {
	sec := int((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}
