package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"jaracar/api/internal/store"
)

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "http://localhost:5173"), svc
}

func doRequest(t *testing.T, srv *HTTPServer, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func issueToken(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.Token
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if body["status"] != "ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPreflightCORS(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, _ := doRequest(t, srv, http.MethodOptions, "/api/threads", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}

func TestRequestIDEcho(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("want echoed request id, got %q", got)
	}
}

func TestSessionEndpointUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if body["authenticated"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/profile", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedRouteGarbageToken(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{})

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/profile", "not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestProtectedRoutePendingApproval(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "New Resident", Role: "resident", IsApproved: false}, nil
		},
	}
	srv, svc := newTestServer(fs)
	token := issueToken(t, svc, "usr_new")

	rec, body := doRequest(t, srv, http.MethodGet, "/api/profile", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	if body["code"] != "PENDING_APPROVAL" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Mara", Email: "mara@example.com", Role: "resident", IsApproved: true}, nil
		},
	}
	srv, svc := newTestServer(fs)
	token := issueToken(t, svc, "usr_1")

	rec, body := doRequest(t, srv, http.MethodGet, "/api/profile", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %v", rec.Code, body)
	}
	if body["displayName"] != "Mara" || body["email"] != "mara@example.com" {
		t.Fatalf("unexpected profile: %v", body)
	}
}

func TestResidentsForbiddenForResident(t *testing.T) {
	srv, svc := newTestServer(&fakeStore{})
	token := issueToken(t, svc, "usr_1")

	rec, body := doRequest(t, srv, http.MethodGet, "/api/residents", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	if body["code"] != "FORBIDDEN" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestResidentsAllowedForAdmin(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Staff", Role: "admin", IsApproved: true}, nil
		},
	}
	srv, svc := newTestServer(fs)
	token := issueToken(t, svc, "adm_1")

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/residents", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	srv, svc := newTestServer(&fakeStore{})
	token := issueToken(t, svc, "usr_1")

	rec, body := doRequest(t, srv, http.MethodGet, "/api/nonsense", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
	if body["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestThreadsListEmpty(t *testing.T) {
	srv, svc := newTestServer(&fakeStore{})
	token := issueToken(t, svc, "usr_1")

	rec, body := doRequest(t, srv, http.MethodGet, "/api/threads", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if _, ok := body["threads"]; !ok {
		t.Fatalf("missing threads key: %v", body)
	}
}
