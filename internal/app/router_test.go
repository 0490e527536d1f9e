package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac/rbactest"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/jobs"
	_ "github.com/odyssey-erp/odyssey-admin/testing"
)

type stackFixture struct {
	mr       *miniredis.Miniredis
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	logger   *slog.Logger
	cfg      *Config
}

func newStackFixture(t *testing.T) *stackFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return &stackFixture{
		mr:       mr,
		sessions: shared.NewSessionManager(client, "odyssey_session", "test-secret", time.Hour, false),
		csrf:     shared.NewCSRFManager("csrf-secret"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:      &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second},
	}
}

func (f *stackFixture) handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         f.logger,
		Config:         f.cfg,
		SessionManager: f.sessions,
		CSRFManager:    f.csrf,
	}) {
		r.Use(mw)
	}
	r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := f.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(token))
	})
	r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// signIn stores an enriched session for userID and returns its cookie.
func (f *stackFixture) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser(userID)
	sess.SetState(shared.StateEnriched)
	sess.SetClaims(shared.Claims{IsActive: true, IssuedAt: time.Now(), RefreshedAt: time.Now()})
	rr := httptest.NewRecorder()
	require.NoError(t, f.sessions.Commit(ctx, rr, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestCSRFRequiredOnUnsafeMethods(t *testing.T) {
	f := newStackFixture(t)
	h := f.handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	token := rr.Body.String()
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	post := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		req.AddCookie(cookies[0])
		if header != "" {
			req.Header.Set(shared.CSRFHeader, header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, post("").Code)
	assert.Equal(t, http.StatusForbidden, post("forged").Code)
	missing := post("")
	assert.Equal(t, "application/problem+json", missing.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusNoContent, post(token).Code)
}

func TestSessionStoreOutageIsTransient(t *testing.T) {
	f := newStackFixture(t)
	h := f.handler()
	cookie := f.signIn(t, "user-1")

	f.mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestSecureHeadersApplied(t *testing.T) {
	f := newStackFixture(t)
	rr := httptest.NewRecorder()
	f.handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/token", nil))

	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func newConsoleRouter(t *testing.T, f *stackFixture, store *rbactest.Store, health func(*http.Request) error) http.Handler {
	t.Helper()
	guard := rbac.NewGuard(rbac.NewResolver(store), f.logger, nil)
	return NewRouter(RouterParams{
		Logger:         f.logger,
		Config:         f.cfg,
		SessionManager: f.sessions,
		CSRFManager:    f.csrf,
		RBACMiddleware: rbac.Middleware{Guard: guard},
		JobHandler:     jobs.NewHandler(nil, f.logger),
		Metrics:        observability.NewMetrics(),
		Health:         health,
	})
}

func TestHealthz(t *testing.T) {
	f := newStackFixture(t)

	rr := httptest.NewRecorder()
	newConsoleRouter(t, f, rbactest.NewStore(), nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	down := func(*http.Request) error { return errors.New("pool closed") }
	rr = httptest.NewRecorder()
	newConsoleRouter(t, f, rbactest.NewStore(), down).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestJobsHealthRequiresLogsRead(t *testing.T) {
	f := newStackFixture(t)
	store := rbactest.NewStore()
	store.PutRole(1, "Auditor", rbac.Grant{Source: rbac.SourceLogs, Actions: []rbac.Action{rbac.ActionRead}})
	store.PutRole(2, "Editor", rbac.Grant{Source: rbac.SourcePosts, Actions: []rbac.Action{rbac.ActionRead}})
	store.PutUser("auditor", 1, true)
	store.PutUser("editor", 2, true)
	h := newConsoleRouter(t, f, store, nil)

	get := func(cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ops/jobs/health", nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, get(nil).Code)
	assert.Equal(t, http.StatusForbidden, get(f.signIn(t, "editor")).Code)

	rr := get(f.signIn(t, "auditor"))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "audit", body["queue"])
}

func TestUnknownRouteIsProblem(t *testing.T) {
	f := newStackFixture(t)
	rr := httptest.NewRecorder()
	newConsoleRouter(t, f, rbactest.NewStore(), nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("OIDC_SCOPES", "profile,email,groups")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, time.Minute, cfg.SessionRefreshInterval)
	assert.Equal(t, 10, cfg.AuditRetryMax)
	assert.Equal(t, []string{"profile", "email", "groups"}, cfg.OIDCScopes)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.OIDCEnabled())
}

func TestLoadConfigRejectsNegativeRefresh(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("SESSION_REFRESH_INTERVAL", "-1s")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "nope")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, logLevel(nil))
	assert.Equal(t, slog.LevelDebug, logLevel(&Config{LogLevel: "DEBUG"}))
	assert.Equal(t, slog.LevelWarn, logLevel(&Config{LogLevel: "warn"}))
	assert.Equal(t, slog.LevelInfo, logLevel(&Config{LogLevel: "verbose"}))
}

func TestLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{AppEnv: "test", LogFormat: "json"})
	store := rbactest.NewStore()
	store.PutRole(1, "Reader", rbac.Grant{Source: rbac.SourceUser, Actions: []rbac.Action{rbac.ActionRead}})
	store.PutUser("reader", 1, true)
	guard := rbac.NewGuard(rbac.NewResolver(store), logger, nil)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := guard.Authorize(r.Context(), rbac.Identity{UserID: "reader"}, rbac.ReqDeleteUser)
		assert.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	})
	handler = middleware.RequestID(handler)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/users/x", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "rbac permission denied", line["msg"])
	assert.NotEmpty(t, line["request_id"])

	buf.Reset()
	logger.Info("background")
	assert.NotContains(t, buf.String(), "request_id")
}
