package admission

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// defaultMessage keeps user-visible text to the generic category; the precise
// internal reason goes to the security log, not to untrusted callers.
func defaultMessage(d Decision) string {
	if d.Message != "" {
		return d.Message
	}
	switch d.Status {
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusUnauthorized:
		return "authentication required"
	default:
		return "request rejected"
	}
}

// WriteDecision renders a denying decision as the JSON error envelope,
// including Retry-After and any informational headers the gates attached.
// The caller must not write anything else afterwards.
func WriteDecision(w http.ResponseWriter, d Decision) {
	for k, vs := range d.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(d.RetryAfter)))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{Code: string(d.Reason), Message: defaultMessage(d)},
	})
}
