package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// AdminHandler handles admin setup and face login
type AdminHandler struct {
	service        *attendance.Service
	faces          faces
	sessionManager *middleware.SessionManager
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *attendance.Service, emb embedder.Embedder, sm *middleware.SessionManager) *AdminHandler {
	return &AdminHandler{
		service:        svc,
		faces:          faces{embedder: emb},
		sessionManager: sm,
	}
}

type adminSetupRequest struct {
	Name        string `json:"name"`
	PhotoBase64 string `json:"photo_base64"`
}

type adminLoginRequest struct {
	PhotoBase64 string `json:"photo_base64"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AdminStatusResponse tells a kiosk whether setup is still pending.
type AdminStatusResponse struct {
	Registered bool `json:"registered"`
}

// Status reports whether the admin face has been enrolled
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.AdminConfigured(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AdminStatusResponse{Registered: ok})
}

// Setup enrolls the admin face. Once an admin exists, only a logged-in
// admin may replace it.
func (h *AdminHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req adminSetupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhotoBase64 == "" {
		respondError(w, http.StatusBadRequest, "photo_base64 is required")
		return
	}

	replace := h.sessionManager.GetSessionFromRequest(r) != nil
	emb, err := h.faces.extract(r.Context(), req.PhotoBase64)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	admin, err := h.service.SetupAdmin(r.Context(), req.Name, req.PhotoBase64, emb, replace)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if replace {
		h.sessionManager.DeleteAll()
	}
	log.Printf("Admin face enrolled for %q", sanitizeForLog(admin.Name))

	session, err := h.sessionManager.CreateSession(admin.ID, admin.Name, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, r, session)
	respondJSON(w, http.StatusCreated, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// Login authenticates the admin by face
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhotoBase64 == "" {
		respondError(w, http.StatusBadRequest, "photo_base64 is required")
		return
	}

	emb, err := h.faces.extract(r.Context(), req.PhotoBase64)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	admin, distance, err := h.service.AuthenticateAdmin(r.Context(), emb)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	session, err := h.sessionManager.CreateSession(admin.ID, admin.Name, distance)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, r, session)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout ends the admin session
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(session.ID)
	}
	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SessionResponse represents the auth status response
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	AdminName     string `json:"admin_name,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Session reports whether the request carries a valid admin session
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, SessionResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{
		Authenticated: true,
		AdminName:     session.AdminName,
		ExpiresAt:     session.ExpiresAt.Format(time.RFC3339),
	})
}
