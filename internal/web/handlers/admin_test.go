package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
)

func TestAdminHandler_Status(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)

	recorder := httptest.NewRecorder()
	handler.Status(recorder, httptest.NewRequest("GET", "/api/v1/admin/status", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")
	var resp AdminStatusResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Registered {
		t.Error("expected admin not to be registered")
	}
}

func TestAdminHandler_SetupThenLogin(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)
	adminPhoto := env.photo("admin", axisFace(0, 0))

	recorder := httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"name":         "Principal",
		"photo_base64": dataURL(adminPhoto),
	}))
	assertStatusCode(t, recorder, http.StatusCreated)
	if len(recorder.Result().Cookies()) == 0 {
		t.Error("expected setup to set a session cookie")
	}

	// Status flips once the face is enrolled
	recorder = httptest.NewRecorder()
	handler.Status(recorder, httptest.NewRequest("GET", "/api/v1/admin/status", nil))
	var status AdminStatusResponse
	parseJSONResponse(t, recorder, &status)
	if !status.Registered {
		t.Error("expected admin to be registered after setup")
	}

	// A nearby face logs in
	env.photo("admin-again", axisFace(0, 0.2))
	recorder = httptest.NewRecorder()
	handler.Login(recorder, jsonRequest(t, "POST", "/api/v1/admin/login", map[string]string{
		"photo_base64": env.photo("admin-again", axisFace(0, 0.2)),
	}))
	assertStatusCode(t, recorder, http.StatusOK)
	var login LoginResponse
	parseJSONResponse(t, recorder, &login)
	if !login.Success || login.SessionID == "" {
		t.Errorf("expected successful login with session id, got %+v", login)
	}
	if env.sessions.GetSession(login.SessionID) == nil {
		t.Error("login session not stored")
	}
}

func TestAdminHandler_SetupTwiceWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)
	body := map[string]string{"photo_base64": env.photo("admin", axisFace(0, 0))}

	recorder := httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", body))
	assertStatusCode(t, recorder, http.StatusCreated)

	recorder = httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"photo_base64": env.photo("intruder", axisFace(3, 0)),
	}))
	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "admin already configured")
}

func TestAdminHandler_SetupRejectedOverCorruptFace(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)

	recorder := httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"photo_base64": env.photo("admin", axisFace(0, 0)),
	}))
	assertStatusCode(t, recorder, http.StatusCreated)

	ref := database.Ref{Role: database.RoleAdmin, ID: database.AdminID}
	env.store.PutRawEncoding(ref, "Administrator", make([]byte, testDim*8-8))

	recorder = httptest.NewRecorder()
	handler.Status(recorder, httptest.NewRequest("GET", "/api/v1/admin/status", nil))
	var status AdminStatusResponse
	parseJSONResponse(t, recorder, &status)
	if !status.Registered {
		t.Error("a corrupt admin face must still report the admin as registered")
	}

	recorder = httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"photo_base64": env.photo("intruder", axisFace(3, 0)),
	}))
	assertStatusCode(t, recorder, http.StatusConflict)
	if len(recorder.Result().Cookies()) != 0 {
		t.Error("rejected setup must not create a session")
	}
}

func TestAdminHandler_ReplaceWithSession(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)

	recorder := httptest.NewRecorder()
	handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"photo_base64": env.photo("admin", axisFace(0, 0)),
	}))
	assertStatusCode(t, recorder, http.StatusCreated)
	var first LoginResponse
	parseJSONResponse(t, recorder, &first)

	req := jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{
		"name":         "New Principal",
		"photo_base64": env.photo("new-admin", axisFace(4, 0)),
	})
	req.Header.Set("Authorization", "Bearer "+first.SessionID)
	recorder = httptest.NewRecorder()
	handler.Setup(recorder, req)
	assertStatusCode(t, recorder, http.StatusCreated)

	if env.sessions.GetSession(first.SessionID) != nil {
		t.Error("old sessions should be revoked when the admin face is replaced")
	}

	// The old face no longer authenticates
	recorder = httptest.NewRecorder()
	handler.Login(recorder, jsonRequest(t, "POST", "/api/v1/admin/login", map[string]string{
		"photo_base64": env.photo("admin", axisFace(0, 0)),
	}))
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}

func TestAdminHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		setup      bool
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{"not configured", false, map[string]string{"photo_base64": "YWRtaW4="}, http.StatusNotFound, "admin not configured"},
		{"missing photo", true, map[string]string{}, http.StatusBadRequest, "photo_base64 is required"},
		{"no face", true, map[string]string{"photo_base64": "Ymxhbms="}, http.StatusUnprocessableEntity, "no face detected in photo"},
		{"invalid base64", true, map[string]string{"photo_base64": "%%%"}, http.StatusBadRequest, "invalid image"},
		{"wrong face", true, map[string]string{"photo_base64": "c3RyYW5nZXI="}, http.StatusUnauthorized, "face not recognized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewAdminHandler(env.service, env.embedder, env.sessions)
			env.photo("admin", axisFace(0, 0))
			env.photo("stranger", axisFace(5, 0))
			if tt.setup {
				recorder := httptest.NewRecorder()
				handler.Setup(recorder, jsonRequest(t, "POST", "/api/v1/admin/setup", map[string]string{"photo_base64": "YWRtaW4="}))
				assertStatusCode(t, recorder, http.StatusCreated)
			}

			recorder := httptest.NewRecorder()
			handler.Login(recorder, jsonRequest(t, "POST", "/api/v1/admin/login", tt.body))

			assertStatusCode(t, recorder, tt.wantStatus)
			assertJSONError(t, recorder, tt.wantError)
		})
	}
}

func TestAdminHandler_LogoutAndSession(t *testing.T) {
	env := newTestEnv(t)
	handler := NewAdminHandler(env.service, env.embedder, env.sessions)
	session, _ := env.sessions.CreateSession("ADMIN", "Principal", 0.1)

	req := httptest.NewRequest("GET", "/api/v1/admin/session", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	recorder := httptest.NewRecorder()
	handler.Session(recorder, req)
	var resp SessionResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Authenticated || resp.AdminName != "Principal" {
		t.Errorf("unexpected session response %+v", resp)
	}

	req = httptest.NewRequest("POST", "/api/v1/admin/logout", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	recorder = httptest.NewRecorder()
	handler.Logout(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	if env.sessions.GetSession(session.ID) != nil {
		t.Error("session should be deleted after logout")
	}

	recorder = httptest.NewRecorder()
	handler.Session(recorder, httptest.NewRequest("GET", "/api/v1/admin/session", nil))
	resp = SessionResponse{}
	parseJSONResponse(t, recorder, &resp)
	if resp.Authenticated {
		t.Error("expected unauthenticated after logout")
	}
}
