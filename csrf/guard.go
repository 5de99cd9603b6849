// Package csrf rejects mutating requests that did not originate from a
// trusted browsing context. Origin/Referer validation is the mandatory,
// stateless baseline; the bound single-use token scheme is an optional
// stronger mode for routes wanting defense-in-depth (it closes edge cases
// such as privacy tools stripping the Referer, at the cost of server-side
// state).
package csrf

import (
	"mime"
	"net/http"

	"github.com/gatehouse/gatehouse/admission"
	"github.com/gatehouse/gatehouse/security"
)

// Config configures the CSRF guard.
//
// Example:
//
//	guard := csrf.New(csrf.Config{
//		TrustedOrigins: []string{"http://localhost:3000"},
//		RequireToken:   true,
//	})
type Config struct {
	// TrustedOrigins is an allow-list of additional origins accepted besides
	// the request's own host, used for local development frontends.
	TrustedOrigins []string
	// RequireToken enables the single-use token check on top of the
	// header validation.
	RequireToken bool
	// TokenHeader is where the submitted token is expected first.
	// Default: X-CSRF-Token.
	TokenHeader string
	// TokenCookie is consulted when the header is absent.
	// Default: csrf_token.
	TokenCookie string
	// Store holds issued tokens. When RequireToken is set and Store is nil,
	// New creates one with DefaultTokenTTL.
	Store *TokenStore
}

// DefaultConfig returns the baseline configuration: header validation only.
func DefaultConfig() Config {
	return Config{
		TokenHeader: "X-CSRF-Token",
		TokenCookie: "csrf_token",
	}
}

// Guard validates that mutating requests originate from a trusted context.
// It implements admission.Gate.
type Guard struct {
	cfg Config
}

// New creates a Guard. With no arguments it applies DefaultConfig.
func New(cfgs ...Config) *Guard {
	cfg := DefaultConfig()
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "X-CSRF-Token"
	}
	if cfg.TokenCookie == "" {
		cfg.TokenCookie = "csrf_token"
	}
	if cfg.RequireToken && cfg.Store == nil {
		cfg.Store = NewTokenStore(DefaultTokenTTL)
	}
	return &Guard{cfg: cfg}
}

// Store returns the token store so the server can issue tokens. Nil unless
// token mode is enabled.
func (g *Guard) Store() *TokenStore { return g.cfg.Store }

// Name implements admission.Gate.
func (g *Guard) Name() string { return "csrf" }

// Check validates the request's provenance. Safe methods (GET, HEAD,
// OPTIONS) always pass. Every parsing failure denies; the guard never fails
// open.
func (g *Guard) Check(r *http.Request) admission.Decision {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return admission.Allow()
	}

	host := r.Host
	if origin := r.Header.Get("Origin"); origin != "" {
		if !security.OriginMatchesHost(origin, host, g.cfg.TrustedOrigins) {
			return admission.Deny(http.StatusForbidden, admission.ReasonInvalidOrigin, "")
		}
	} else if referer := r.Header.Get("Referer"); referer != "" {
		if !security.RefererMatchesHost(referer, host, g.cfg.TrustedOrigins) {
			return admission.Deny(http.StatusForbidden, admission.ReasonInvalidOrigin, "")
		}
	} else {
		return admission.Deny(http.StatusForbidden, admission.ReasonMissingOriginAndReferer, "")
	}

	// A request without a body has no Content-Type to judge; DELETEs are the
	// common case.
	if ct := r.Header.Get("Content-Type"); ct != "" && !allowedContentType(ct) {
		return admission.Deny(http.StatusForbidden, admission.ReasonInvalidContentType, "")
	}

	if g.cfg.RequireToken {
		tok := r.Header.Get(g.cfg.TokenHeader)
		if tok == "" {
			if c, err := r.Cookie(g.cfg.TokenCookie); err == nil {
				tok = c.Value
			}
		}
		if !g.cfg.Store.Verify(tok, security.ClientAddr(r)) {
			return admission.Deny(http.StatusForbidden, admission.ReasonInvalidOrMissingToken, "")
		}
	}

	return admission.Allow()
}

// allowedContentType accepts the media types a browser submits for a
// mutation: JSON, form encodings, and plain text.
func allowedContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/json", "application/x-www-form-urlencoded", "multipart/form-data", "text/plain":
		return true
	}
	return false
}
