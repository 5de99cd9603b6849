// Package gatehouse is the request-protection layer for a community web
// application: a per-process fixed-window rate limiter, a CSRF guard, and an
// admission pipeline that gates every mutating request before business logic
// runs. The root package re-exports the admission surface; the concrete gates
// live in the ratelimit and csrf packages.
package gatehouse

import (
	"github.com/gatehouse/gatehouse/admission"
)

// Decision is the terminal value of one gate stage. Re-exported from
// admission.Decision.
type Decision = admission.Decision

// Gate is a single admission stage. Re-exported from admission.Gate.
type Gate = admission.Gate

// Pipeline composes gates into one ordered, short-circuiting check per
// request. Re-exported from admission.Pipeline.
type Pipeline = admission.Pipeline

// Identity and IdentityService describe the external session collaborator.
// Re-exported from admission.
type (
	Identity        = admission.Identity
	IdentityService = admission.IdentityService
)

// Role is the privilege level used by the authorization gate.
type Role = admission.Role

// New builds a pipeline over the given gates, in order. Re-exported from
// admission.New.
func New(gates []Gate, opts ...admission.Option) *Pipeline {
	return admission.New(gates, opts...)
}
