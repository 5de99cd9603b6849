// Package admission composes the request-protection gates (rate limiter,
// CSRF guard, authorization check) into one ordered decision evaluated at the
// top of every guarded route. The first gate that denies produces the final
// response; later gates are not evaluated.
package admission

import (
	"net/http"
	"time"
)

// Reason is the machine-readable category attached to a denial.
type Reason string

const (
	ReasonRateLimited             Reason = "rate_limited"
	ReasonInvalidOrigin           Reason = "invalid_origin"
	ReasonMissingOriginAndReferer Reason = "missing_origin_and_referer"
	ReasonInvalidContentType      Reason = "invalid_content_type"
	ReasonInvalidOrMissingToken   Reason = "invalid_or_missing_token"
	ReasonUnauthenticated         Reason = "unauthenticated"
	ReasonForbidden               Reason = "forbidden"
)

// Outcome is the terminal state of one request's pipeline evaluation.
type Outcome string

const (
	OutcomeAdmitted     Outcome = "admitted"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeCSRFRejected Outcome = "csrf_rejected"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Decision is the transient value returned by each gate stage. Gates never
// return errors: any internal fault degrades to a deny (fail-closed).
type Decision struct {
	Allowed bool
	// Reason, Status and Message are set only on deny.
	Reason  Reason
	Status  int
	Message string
	// RetryAfter is surfaced as a Retry-After response header when > 0.
	RetryAfter time.Duration
	// Headers carries informational headers (e.g. X-RateLimit-*) that are
	// attached to the response on allow as well as on deny.
	Headers http.Header
}

// Allow returns an admitting decision with no header contribution.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a terminal decision with the given status and reason.
func Deny(status int, reason Reason, message string) Decision {
	return Decision{Reason: reason, Status: status, Message: message}
}

// WithHeader returns a copy of d carrying an additional response header.
func (d Decision) WithHeader(key, value string) Decision {
	h := http.Header{}
	for k, v := range d.Headers {
		h[k] = v
	}
	h.Set(key, value)
	d.Headers = h
	return d
}

// Outcome maps the decision to its terminal pipeline state.
func (d Decision) Outcome() Outcome {
	if d.Allowed {
		return OutcomeAdmitted
	}
	switch d.Reason {
	case ReasonRateLimited:
		return OutcomeRateLimited
	case ReasonUnauthenticated, ReasonForbidden:
		return OutcomeUnauthorized
	default:
		return OutcomeCSRFRejected
	}
}

// Gate is a single admission stage. Check must be cheap, side-effect-safe for
// concurrent requests, and must never panic or block on another request.
type Gate interface {
	// Name identifies the gate in logs, traces and stats.
	Name() string
	Check(r *http.Request) Decision
}
