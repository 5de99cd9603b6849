package security

import (
	"net/url"
	"strings"
)

// OriginMatchesHost reports whether origin is exactly the request's own host
// under https:// or http://, or is present in the extra allow-list (used for
// local development origins such as http://localhost:3000).
//
// Matching is exact string comparison after trimming; no suffix or wildcard
// matching is performed, so https://evil-app.example can never match
// app.example.
func OriginMatchesHost(origin, host string, extra []string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" || host == "" {
		return false
	}
	if origin == "https://"+host || origin == "http://"+host {
		return true
	}
	for _, o := range extra {
		if origin == strings.TrimSpace(o) {
			return true
		}
	}
	return false
}

// RefererMatchesHost parses referer as a URL and compares its host component
// against the request's Host header, with the same development allow-list
// exception as OriginMatchesHost. A malformed referer never matches.
func RefererMatchesHost(referer, host string, extra []string) bool {
	referer = strings.TrimSpace(referer)
	if referer == "" || host == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == host {
		return true
	}
	for _, o := range extra {
		a, err := url.Parse(strings.TrimSpace(o))
		if err == nil && a.Host != "" && a.Host == u.Host {
			return true
		}
	}
	return false
}
