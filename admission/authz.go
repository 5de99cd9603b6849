package admission

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Role is the coarse privilege level attached to an authenticated caller.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{RoleUser: 1, RoleModerator: 2, RoleAdmin: 3}

// Satisfies reports whether r grants at least the privileges of required.
func (r Role) Satisfies(required Role) bool {
	return roleRank[r] >= roleRank[required] && roleRank[r] > 0
}

// Identity is the external session service's answer about the current caller.
type Identity struct {
	ID   string
	Role Role
}

// ErrUnauthenticated is returned by an IdentityService when the request
// carries no valid session.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityService is the external collaborator that resolves the current
// caller. Implementations own their I/O and may consult a session store; they
// must honor ctx cancellation. Any error other than ErrUnauthenticated is
// treated as a deny, never as an allow.
type IdentityService interface {
	CurrentIdentity(ctx context.Context, r *http.Request) (Identity, error)
}

type authzGate struct {
	svc     IdentityService
	role    Role
	timeout time.Duration
}

// AuthzOption customizes a RequireRole gate.
type AuthzOption func(*authzGate)

// WithAuthzTimeout bounds the identity lookup. Zero disables the extra
// deadline (the request context still applies).
func WithAuthzTimeout(d time.Duration) AuthzOption {
	return func(g *authzGate) { g.timeout = d }
}

// RequireRole returns a gate admitting only callers whose resolved role
// satisfies the required one. Lookup errors and timeouts deny (fail-closed).
func RequireRole(svc IdentityService, role Role, opts ...AuthzOption) Gate {
	g := &authzGate{svc: svc, role: role, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *authzGate) Name() string { return "authz" }

func (g *authzGate) Check(r *http.Request) Decision {
	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	id, err := g.svc.CurrentIdentity(ctx, r)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return Deny(http.StatusUnauthorized, ReasonUnauthenticated, "authentication required")
	case err != nil:
		// Includes context.DeadlineExceeded: an unreachable identity
		// service never fails open.
		return Deny(http.StatusForbidden, ReasonForbidden, "access denied")
	case !id.Role.Satisfies(g.role):
		return Deny(http.StatusForbidden, ReasonForbidden, "access denied")
	}
	return Allow()
}
