// Package security provides pure, side-effect-free request inspection
// helpers shared by the rate limiter and the CSRF guard: client address
// derivation, origin/referer matching, and request path normalization.
package security

import (
	"net/url"
	"path"
	"strings"
)

// NormalizePath decodes, cleans, and anchors a request path so that route
// classification cannot be dodged with encoded or traversal forms
// (e.g. /api/auth/../search must not be classified as an auth route).
// Returns "" if the path cannot be decoded.
func NormalizePath(rawPath string) string {
	if rawPath == "" {
		return "/"
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return ""
	}
	// Clean removes ../, //, ./ segments
	clean := path.Clean(decoded)
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	return clean
}
