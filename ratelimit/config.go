// Package ratelimit bounds the number of requests a client may make against
// a route class inside a fixed time window. Counters are process-local: a
// horizontally scaled deployment enforces an independent quota per instance.
package ratelimit

import (
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/security"
)

// Class groups routes that share a quota policy.
type Class string

const (
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
	ClassSearch  Class = "search"
	ClassGeneral Class = "general"
)

// Config is the immutable policy for one route class.
type Config struct {
	// Window is the fixed counting window; the counter is replaced, not
	// merged, when it elapses.
	Window time.Duration
	// MaxRequests is the number of requests admitted per key per window.
	MaxRequests int
	// Message optionally overrides the user-visible rejection text.
	Message string
}

// Policy maps route classes to their configs. Missing classes fall back to
// ClassGeneral, then to a built-in default.
type Policy map[Class]Config

// DefaultPolicy returns the policy used when none is configured: strict on
// authentication, moderate on uploads and search, permissive elsewhere.
func DefaultPolicy() Policy {
	return Policy{
		ClassAuth:    {Window: 15 * time.Minute, MaxRequests: 5, Message: "too many attempts, try again later"},
		ClassUpload:  {Window: time.Hour, MaxRequests: 20},
		ClassSearch:  {Window: time.Minute, MaxRequests: 30},
		ClassGeneral: {Window: time.Minute, MaxRequests: 60},
	}
}

// For resolves the config for a class.
func (p Policy) For(c Class) Config {
	if cfg, ok := p[c]; ok && cfg.Window > 0 && cfg.MaxRequests > 0 {
		return cfg
	}
	if cfg, ok := p[ClassGeneral]; ok && cfg.Window > 0 && cfg.MaxRequests > 0 {
		return cfg
	}
	return Config{Window: time.Minute, MaxRequests: 60}
}

// Classifier selects the route class for a request path. It must be pure:
// identical paths always yield identical classes.
type Classifier func(path string) Class

// ClassifyPath is the default classifier. It normalizes the path first so
// encoded or traversal forms cannot select a more permissive class.
func ClassifyPath(p string) Class {
	clean := security.NormalizePath(p)
	switch {
	case hasAnyPrefix(clean, "/api/auth", "/login", "/signup", "/logout"):
		return ClassAuth
	case hasAnyPrefix(clean, "/api/upload", "/api/media"):
		return ClassUpload
	case hasAnyPrefix(clean, "/api/search", "/search"):
		return ClassSearch
	default:
		return ClassGeneral
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if s == p || strings.HasPrefix(s, p+"/") {
			return true
		}
	}
	return false
}

// Key derives the quota identity for a client address and route class.
// Pure and side-effect-free: two requests with the same key share a quota.
func Key(addr string, class Class) string {
	return addr + "|" + string(class)
}
