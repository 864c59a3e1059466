package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/matching"
)

type stubEmbedder struct{}

// Extract returns a unit vector along the axis named by the first image byte.
func (stubEmbedder) Extract(ctx context.Context, image []byte) (biometric.Embedding, error) {
	e := make(biometric.Embedding, 4)
	e[int(image[0]-'0')%4] = 1
	return e, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	_, store, ledger, subjects := mock.NewBackend(4)
	svc := attendance.NewService(store, ledger,
		matching.NewGuard(store, 0.4, matching.ScopeRole),
		matching.NewLinearMatcher(store, 0.5),
		attendance.Options{Dim: 4, Location: time.UTC},
	)
	cfg := &config.Config{Web: config.WebConfig{
		Port:          8080,
		Host:          "127.0.0.1",
		SessionSecret: "test-secret",
		IdentifyRate:  1,
		IdentifyBurst: 1,
	}}
	s := NewServer(cfg, svc, subjects, stubEmbedder{})
	t.Cleanup(s.Sessions().Stop)
	return s
}

func photoBody(axis string) *bytes.Reader {
	return bytes.NewReader([]byte(`{"photo_base64":"` + base64.StdEncoding.EncodeToString([]byte(axis)) + `"}`))
}

func TestRoutes_Public(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/api/v1/health", http.StatusOK},
		{"GET", "/api/v1/metrics", http.StatusOK},
		{"GET", "/api/v1/admin/status", http.StatusOK},
		{"GET", "/api/v1/admin/session", http.StatusOK},
		{"GET", "/api/v1/subjects", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			s.Router().ServeHTTP(recorder, httptest.NewRequest(tt.method, tt.path, nil))
			if recorder.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, recorder.Code, tt.want)
			}
		})
	}
}

func TestRoutes_ManagementRequiresSession(t *testing.T) {
	s := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{"GET", "/api/v1/students"},
		{"POST", "/api/v1/students"},
		{"DELETE", "/api/v1/students/S1"},
		{"GET", "/api/v1/faculty"},
		{"POST", "/api/v1/subjects"},
		{"GET", "/api/v1/attendance"},
		{"GET", "/api/v1/attendance/report"},
		{"PUT", "/api/v1/attendance/abc"},
	} {
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, httptest.NewRequest(route.method, route.path, nil))
		if recorder.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", route.method, route.path, recorder.Code)
		}
	}
}

func TestRoutes_SetupLoginAndManage(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/v1/admin/setup", photoBody("0")))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("setup = %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/v1/admin/login", photoBody("0")))
	if recorder.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", recorder.Code, recorder.Body.String())
	}
	cookies := recorder.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login did not set a cookie")
	}

	req := httptest.NewRequest("POST", "/api/v1/students", strings.NewReader(
		`{"student_id":"S1","name":"Meena","photo_base64":"`+base64.StdEncoding.EncodeToString([]byte("1"))+`"}`))
	req.AddCookie(cookies[0])
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create student = %d: %s", recorder.Code, recorder.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/students", nil)
	req.AddCookie(cookies[0])
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"S1"`) {
		t.Errorf("list students = %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRoutes_IdentifyRateLimited(t *testing.T) {
	s := newTestServer(t)

	codes := make([]int, 0, 2)
	for range 2 {
		req := httptest.NewRequest("POST", "/api/v1/identify", photoBody("2"))
		req.RemoteAddr = "198.51.100.4:40000"
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, req)
		codes = append(codes, recorder.Code)
	}

	if codes[0] != http.StatusOK {
		t.Errorf("first identify = %d, want 200", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("second identify = %d, want 429", codes[1])
	}
}
