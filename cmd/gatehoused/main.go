// Command gatehoused runs a demo community server with every route behind
// the admission pipeline: rate limiting on all traffic, CSRF validation on
// mutations, and an admin-role requirement on moderation routes. The data
// layer is a stand-in; the point of the binary is the protection layer wired
// end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/gatehouse/gatehouse/admission"
	"github.com/gatehouse/gatehouse/config"
	"github.com/gatehouse/gatehouse/core"
	"github.com/gatehouse/gatehouse/csrf"
	"github.com/gatehouse/gatehouse/ratelimit"
	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/stats"
)

// demoIdentity resolves callers from a bearer-style session header. A real
// deployment replaces this with the session/identity service client.
type demoIdentity struct {
	sessions map[string]admission.Identity
}

func (d *demoIdentity) CurrentIdentity(_ context.Context, r *http.Request) (admission.Identity, error) {
	tok := r.Header.Get("X-Session-Token")
	if tok == "" {
		return admission.Identity{}, admission.ErrUnauthenticated
	}
	id, ok := d.sessions[tok]
	if !ok {
		return admission.Identity{}, admission.ErrUnauthenticated
	}
	return id, nil
}

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	logger := slog.New(zapslog.NewHandler(zl.Core()))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "err", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(cfg.Policy())
	limiter.StartSweeper(ctx, cfg.SweepInterval)

	guard := csrf.New(csrf.Config{
		TrustedOrigins: cfg.TrustedOrigins,
		RequireToken:   cfg.RequireCSRFToken,
		Store:          csrf.NewTokenStore(cfg.CSRFTokenTTL),
	})
	if st := guard.Store(); st != nil {
		st.StartSweeper(ctx, cfg.SweepInterval)
	}

	var recorder admission.Recorder = stats.NewPrometheus(prometheus.DefaultRegisterer)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		recorder = multiRecorder{recorder, stats.NewRedis(rdb)}
	}

	ids := &demoIdentity{sessions: map[string]admission.Identity{
		"alice-session": {ID: "alice", Role: admission.RoleAdmin},
		"bob-session":   {ID: "bob", Role: admission.RoleUser},
	}}

	public := admission.New(
		[]admission.Gate{limiter, guard},
		admission.WithRecorder(recorder),
		admission.WithTracing("gatehouse"),
	)
	admin := admission.New(
		[]admission.Gate{limiter, guard, admission.RequireRole(ids, admission.RoleAdmin)},
		admission.WithRecorder(recorder),
		admission.WithTracing("gatehouse"),
	)

	router := httprouter.New()
	route := func(pipe *admission.Pipeline, method, path string, h http.HandlerFunc) {
		router.Handler(method, path, pipe.Middleware(h))
	}

	// Community routes. Handlers are stand-ins for the CRUD layer.
	route(public, http.MethodGet, "/api/posts", listStub("posts"))
	route(public, http.MethodPost, "/api/posts", createStub("post"))
	route(public, http.MethodPost, "/api/posts/:id/comments", createStub("comment"))
	route(public, http.MethodDelete, "/api/posts/:id", deleteStub("post"))
	route(public, http.MethodPost, "/api/communities", createStub("community"))
	route(public, http.MethodGet, "/api/search", listStub("results"))
	route(public, http.MethodPost, "/api/upload", createStub("upload"))
	route(public, http.MethodPost, "/api/auth/login", createStub("session"))

	// Admin moderation routes require the external admin fact.
	route(admin, http.MethodDelete, "/api/admin/posts/:id", deleteStub("post"))
	route(admin, http.MethodPost, "/api/admin/users/:id/ban", createStub("ban"))

	// Token issuance for clients opting into the stronger CSRF mode.
	if st := guard.Store(); st != nil {
		router.Handler(http.MethodGet, "/api/csrf", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"token": st.Issue(security.ClientAddr(r))})
		}))
	}

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			router.ServeHTTP(w, r.WithContext(core.ContextWithLogger(r.Context(), logger)))
		}),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("listening", "addr", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "err", err)
	}
}

// multiRecorder fans one event out to several recorders.
type multiRecorder []admission.Recorder

func (m multiRecorder) Record(ctx context.Context, ev admission.Event) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func listStub(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{kind: []string{}})
	}
}

func createStub(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"created": kind})
	}
}

func deleteStub(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"deleted": kind})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
