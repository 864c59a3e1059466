package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

const testDim = 8

// fakeEmbedder maps the raw bytes of an "image" to a known embedding.
type fakeEmbedder struct {
	faces map[string]biometric.Embedding
	err   error
}

func (f *fakeEmbedder) Extract(ctx context.Context, image []byte) (biometric.Embedding, error) {
	if f.err != nil {
		return nil, f.err
	}
	emb, ok := f.faces[string(image)]
	if !ok {
		return nil, biometric.ErrNoFaceDetected
	}
	return emb, nil
}

// testEnv bundles a service over in-memory stores with a fake embedder.
type testEnv struct {
	service  *attendance.Service
	store    *mock.MockIdentityStore
	ledger   *mock.MockLedger
	subjects *mock.MockSubjectStore
	embedder *fakeEmbedder
	sessions *middleware.SessionManager
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_, store, ledger, subjects := mock.NewBackend(testDim)
	env := &testEnv{
		store:    store,
		ledger:   ledger,
		subjects: subjects,
		embedder: &fakeEmbedder{faces: map[string]biometric.Embedding{}},
		sessions: middleware.NewSessionManager("test-secret"),
		now:      time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC),
	}
	t.Cleanup(env.sessions.Stop)
	env.service = attendance.NewService(store, ledger,
		matching.NewGuard(store, 0.4, matching.ScopeRole),
		matching.NewLinearMatcher(store, 0.5),
		attendance.Options{Dim: testDim, MatchThreshold: 0.5, Location: time.UTC, Now: func() time.Time { return env.now }},
	)
	return env
}

// axisFace is a unit vector along axis, optionally nudged along the next axis.
func axisFace(axis int, nudge float64) biometric.Embedding {
	e := make(biometric.Embedding, testDim)
	e[axis%testDim] = 1
	e[(axis+1)%testDim] += nudge
	return e
}

// photo registers a face under name and returns it as a base64 photo.
func (env *testEnv) photo(name string, emb biometric.Embedding) string {
	env.embedder.faces[name] = emb
	return base64.StdEncoding.EncodeToString([]byte(name))
}

// dataURL wraps a photo in a data-URL prefix as browsers send it.
func dataURL(photo string) string {
	return "data:image/jpeg;base64," + photo
}

// enrollStudent stores a student directly through the service.
func (env *testEnv) enrollStudent(t *testing.T, id, name string, emb biometric.Embedding) {
	t.Helper()
	err := env.service.Enroll(context.Background(), &database.Identity{ID: id, Role: database.RoleStudent, Name: name, Embedding: emb})
	if err != nil {
		t.Fatalf("enroll %s: %v", id, err)
	}
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
