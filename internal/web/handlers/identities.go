package handlers

import (
	"cmp"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/roster"
)

// IdentitiesHandler manages students or faculty, depending on role
type IdentitiesHandler struct {
	service *attendance.Service
	faces   faces
	role    database.Role
}

// NewStudentsHandler creates a handler for /students
func NewStudentsHandler(svc *attendance.Service, emb embedder.Embedder) *IdentitiesHandler {
	return &IdentitiesHandler{service: svc, faces: faces{embedder: emb}, role: database.RoleStudent}
}

// NewFacultyHandler creates a handler for /faculty
func NewFacultyHandler(svc *attendance.Service, emb embedder.Embedder) *IdentitiesHandler {
	return &IdentitiesHandler{service: svc, faces: faces{embedder: emb}, role: database.RoleFaculty}
}

// identityRequest is the body of create and update calls. Students may send
// their id as student_id.
type identityRequest struct {
	ID          string   `json:"id"`
	StudentID   string   `json:"student_id"`
	Name        string   `json:"name"`
	Department  string   `json:"department"`
	Subjects    []string `json:"subjects"`
	PIN         string   `json:"pin"`
	PhotoBase64 string   `json:"photo_base64"`
}

func (req *identityRequest) validate() error {
	if len(req.ID) > constants.MaxIDLength {
		return fmt.Errorf("id must be at most %d characters", constants.MaxIDLength)
	}
	if len(req.Name) > constants.MaxNameLength {
		return fmt.Errorf("name must be at most %d characters", constants.MaxNameLength)
	}
	if len(req.Department) > constants.MaxNameLength {
		return fmt.Errorf("department must be at most %d characters", constants.MaxNameLength)
	}
	return nil
}

func (h *IdentitiesHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*identityRequest, bool) {
	var req identityRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	req.ID = strings.TrimSpace(cmp.Or(req.ID, req.StudentID))
	req.Name = roster.CleanName(req.Name)
	req.Department = strings.TrimSpace(req.Department)
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

// apply copies profile fields onto identity. Subjects and PIN only apply to faculty.
func (h *IdentitiesHandler) apply(req *identityRequest, identity *database.Identity) {
	identity.Name = req.Name
	identity.Department = req.Department
	if h.role == database.RoleFaculty {
		identity.Subjects = roster.NormalizeSubjects(req.Subjects)
		identity.PIN = strings.TrimSpace(req.PIN)
	}
	if req.PhotoBase64 != "" {
		identity.Photo = req.PhotoBase64
	}
}

// List returns enrolled identities ordered by id. Supports ?q= to filter
// by id prefix or name and ?sort=name.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.service.Identities().List(r.Context(), h.role)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	identities = roster.Filter(identities, r.URL.Query().Get("q"))
	if r.URL.Query().Get("sort") == "name" {
		roster.SortByName(identities)
	}

	result := make([]IdentityResponse, 0, len(identities))
	for i := range identities {
		result = append(result, identityResponse(&identities[i]))
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns a single identity
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.Identities().Get(r.Context(), h.role, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(identity))
}

// Create enrolls a new identity. Students must send a photo with a face.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	if h.role == database.RoleStudent && req.PhotoBase64 == "" {
		respondError(w, http.StatusBadRequest, "photo_base64 is required")
		return
	}

	identity := &database.Identity{ID: req.ID, Role: h.role}
	h.apply(req, identity)
	if req.PhotoBase64 != "" {
		emb, err := h.faces.extract(r.Context(), req.PhotoBase64)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		identity.Embedding = emb
	}

	if err := h.service.Enroll(r.Context(), identity); err != nil {
		respondServiceError(w, r, err)
		return
	}
	log.Printf("Enrolled %s %q by %s", identity.Ref(), sanitizeForLog(identity.Name), actor(r))
	respondJSON(w, http.StatusCreated, identityResponse(identity))
}

// Update overwrites the profile. A new photo replaces the stored face after
// the duplicate check; without one the face is kept.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if req.ID != "" && req.ID != id {
		respondError(w, http.StatusBadRequest, "id in body does not match path")
		return
	}

	identity, err := h.service.Identities().Get(r.Context(), h.role, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.apply(req, identity)

	var emb biometric.Embedding
	if req.PhotoBase64 != "" {
		if emb, err = h.faces.extract(r.Context(), req.PhotoBase64); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	if err := h.service.UpdateProfile(r.Context(), identity, emb); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if emb != nil {
		identity.Embedding = emb
	}
	respondJSON(w, http.StatusOK, identityResponse(identity))
}

// Delete removes an identity and, for students, their attendance
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref := database.Ref{Role: h.role, ID: chi.URLParam(r, "id")}
	if err := h.service.Delete(r.Context(), ref); err != nil {
		respondServiceError(w, r, err)
		return
	}
	log.Printf("Deleted %s by %s", sanitizeForLog(ref.String()), actor(r))
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
