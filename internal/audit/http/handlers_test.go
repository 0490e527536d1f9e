package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

type stubLogService struct {
	result      audit.Result
	rows        []audit.Row
	err         error
	lastFilters audit.Filters
	lastActor   rbac.Identity
	deleted     int64
}

func (s *stubLogService) List(ctx context.Context, actor rbac.Identity, f audit.Filters) (audit.Result, error) {
	s.lastActor, s.lastFilters = actor, f
	return s.result, s.err
}

func (s *stubLogService) Export(ctx context.Context, actor rbac.Identity, f audit.Filters) ([]audit.Row, error) {
	s.lastActor, s.lastFilters = actor, f
	return s.rows, s.err
}

func (s *stubLogService) Delete(ctx context.Context, actor rbac.Identity, id int64) error {
	s.lastActor = actor
	s.deleted = id
	return s.err
}

func newRouter(service *stubLogService) http.Handler {
	handler := NewHandler(nil, service)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func withUser(req *http.Request, userID string) *http.Request {
	sess := &shared.Session{}
	sess.SetUser(userID)
	sess.SetState(shared.StateEnriched)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestListParsesFiltersAndPassesIdentity(t *testing.T) {
	service := &stubLogService{result: audit.Result{Rows: []audit.Row{}, Paging: audit.PagingInfo{Page: 2, PageSize: 10}}}
	req := withUser(httptest.NewRequest(http.MethodGet, "/logs?from=2025-03-01&to=2025-03-10&type=UPDATE&source=ROLES&page=2&page_size=10", nil), "7")
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastActor.UserID != "7" {
		t.Fatalf("expected actor 7, got %q", service.lastActor.UserID)
	}
	f := service.lastFilters
	if f.Type != audit.TypeUpdate || f.Source != rbac.SourceRoles || f.Page != 2 || f.PageSize != 10 {
		t.Fatalf("unexpected filters %+v", f)
	}
	if !f.To.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected inclusive to date, got %s", f.To)
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Paging.Page != 2 {
		t.Fatalf("unexpected paging %+v", body.Paging)
	}
}

func TestListRejectsInvalidFilters(t *testing.T) {
	for _, query := range []string{"type=CREATE", "source=users", "page=0", "from=2025-04-01&to=2025-03-01", "from=yesterday"} {
		rr := httptest.NewRecorder()
		newRouter(&stubLogService{}).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/logs?"+query, nil), "7"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestListMapsDenial(t *testing.T) {
	service := &stubLogService{err: shared.ErrAuthorizationDenied}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/logs", nil), "7"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "LOGS") {
		t.Fatalf("denial must not name the grant: %s", rr.Body.String())
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubLogService{rows: []audit.Row{{Entry: audit.Entry{ID: 1, Type: audit.TypeDelete, Source: rbac.SourceUser, UserID: "7", Message: "Deleted user"}}}}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/logs/export.csv", nil), "7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Deleted user") {
		t.Fatalf("expected row in csv, got %s", rr.Body.String())
	}
}

func TestExportIsRateLimitedPerUser(t *testing.T) {
	router := newRouter(&stubLogService{})
	var last int
	for i := 0; i < rateLimit+1; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/logs/export.csv", nil), "7"))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", rateLimit, last)
	}
}

func TestDelete(t *testing.T) {
	service := &stubLogService{}
	router := newRouter(service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodDelete, "/logs/42", nil), "7"))
	if rr.Code != http.StatusNoContent || service.deleted != 42 {
		t.Fatalf("expected 204 deleting 42, got %d (%d)", rr.Code, service.deleted)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodDelete, "/logs/abc", nil), "7"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}
}
