package admission_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/admission"
	"github.com/gatehouse/gatehouse/clock"
	"github.com/gatehouse/gatehouse/csrf"
	"github.com/gatehouse/gatehouse/ratelimit"
	"github.com/gatehouse/gatehouse/stats"
)

type staticIdentity struct {
	id  admission.Identity
	err error
}

func (s staticIdentity) CurrentIdentity(context.Context, *http.Request) (admission.Identity, error) {
	return s.id, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func goodPost(path string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "http://app.example"+path, nil)
	req.Host = "app.example"
	req.RemoteAddr = "1.2.3.4:555"
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newLimiter(max int, clk clock.Clock) *ratelimit.Limiter {
	return ratelimit.New(
		ratelimit.Policy{ratelimit.ClassGeneral: {Window: time.Minute, MaxRequests: max}},
		ratelimit.WithClock(clk),
	)
}

func TestPipelineAdmitsAndAttachesHeaders(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New([]admission.Gate{newLimiter(5, clk), csrf.New()})

	rec := httptest.NewRecorder()
	p.Middleware(okHandler()).ServeHTTP(rec, goodPost("/api/posts"))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("missing X-RateLimit-Reset")
	}
}

func TestPipelineRateLimitDenialBody(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New([]admission.Gate{newLimiter(1, clk), csrf.New()})
	h := p.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, goodPost("/api/posts"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, goodPost("/api/posts"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Success {
		t.Fatalf("success should be false")
	}
	if body.Error.Code != "rate_limited" {
		t.Fatalf("error code = %q, want rate_limited", body.Error.Code)
	}
	if body.Error.Message == "" {
		t.Fatalf("missing human-readable message")
	}
}

// Rate limiting runs before CSRF: once the quota is gone, a cross-site
// request gets 429, not 403, and the CSRF gate does no work for it.
func TestPipelineShortCircuitOrder(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New([]admission.Gate{newLimiter(1, clk), csrf.New()})
	h := p.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, goodPost("/api/posts"))

	evil := goodPost("/api/posts")
	evil.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, evil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429 from the earlier gate", rec.Code)
	}
}

func TestPipelineCSRFDenial(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New([]admission.Gate{newLimiter(10, clk), csrf.New()})
	h := p.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "http://app.example/api/posts", nil)
	req.Host = "app.example"
	req.RemoteAddr = "1.2.3.4:555"
	// No Origin, no Referer.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != "missing_origin_and_referer" {
		t.Fatalf("error code = %q, want missing_origin_and_referer", body.Error.Code)
	}
}

func TestPipelineGETPassesCSRFButCountsQuota(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New([]admission.Gate{newLimiter(5, clk), csrf.New()})
	h := p.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://app.example/api/posts", nil)
	req.Host = "app.example"
	req.RemoteAddr = "1.2.3.4:555"
	req.Header.Set("Origin", "https://evil.example") // irrelevant for GET

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET must never be CSRF-denied, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("GET should still consume quota, remaining = %q", got)
	}
}

func TestPipelineAuthorizationOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		svc        admission.IdentityService
		wantStatus int
		wantCode   string
	}{
		{
			name:       "admin admitted",
			svc:        staticIdentity{id: admission.Identity{ID: "alice", Role: admission.RoleAdmin}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "plain user forbidden",
			svc:        staticIdentity{id: admission.Identity{ID: "bob", Role: admission.RoleUser}},
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name:       "unauthenticated",
			svc:        staticIdentity{err: admission.ErrUnauthenticated},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "identity service failure fails closed",
			svc:        staticIdentity{err: context.DeadlineExceeded},
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(time.Unix(0, 0))
			p := admission.New([]admission.Gate{
				newLimiter(10, clk),
				csrf.New(),
				admission.RequireRole(tt.svc, admission.RoleAdmin),
			})
			rec := httptest.NewRecorder()
			p.Middleware(okHandler()).ServeHTTP(rec, goodPost("/api/admin/users/7/ban"))
			if rec.Code != tt.wantStatus {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var body struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				_ = json.Unmarshal(rec.Body.Bytes(), &body)
				if body.Error.Code != tt.wantCode {
					t.Fatalf("error code = %q, want %q", body.Error.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestPipelineRecordsOutcomes(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	rec := stats.NewMemory()
	p := admission.New([]admission.Gate{newLimiter(1, clk), csrf.New()}, admission.WithRecorder(rec))
	h := p.Middleware(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, goodPost("/api/posts"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, goodPost("/api/posts"))

	total := rec.Total()
	if total.Admitted != 1 || total.RateLimited != 1 {
		t.Fatalf("counts = %+v, want 1 admitted and 1 rate limited", total)
	}
	route := rec.Route("POST /api/posts")
	if route.Admitted != 1 || route.RateLimited != 1 {
		t.Fatalf("route counts = %+v", route)
	}
}

func TestPipelineTracingDoesNotChangeBehavior(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := admission.New(
		[]admission.Gate{newLimiter(5, clk), csrf.New()},
		admission.WithTracing("gatehouse-test"),
	)
	rec := httptest.NewRecorder()
	p.Middleware(okHandler()).ServeHTTP(rec, goodPost("/api/posts"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}
