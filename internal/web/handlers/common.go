package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// actor names the admin behind a request in audit log lines.
func actor(r *http.Request) string {
	if session := middleware.AdminFrom(r.Context()); session != nil {
		return fmt.Sprintf("%q", sanitizeForLog(session.AdminName))
	}
	return "anonymous"
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// conflictResponse is returned when a face is already enrolled.
type conflictResponse struct {
	Error    string          `json:"error"`
	Conflict conflictSummary `json:"conflict"`
	Distance float64         `json:"distance"`
}

type conflictSummary struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// errorResponse maps a domain error onto an HTTP status and JSON body.
// Unknown errors map to 500.
func errorResponse(err error) (int, any) {
	msg := func(m string) map[string]string { return map[string]string{"error": m} }

	var dup *matching.DuplicateFaceError
	if errors.As(err, &dup) {
		return http.StatusConflict, conflictResponse{
			Error: fmt.Sprintf("face already registered as %s", dup.Conflict.Name),
			Conflict: conflictSummary{
				ID:   dup.Conflict.ID,
				Role: string(dup.Conflict.Role),
				Name: dup.Conflict.Name,
			},
			Distance: dup.Distance,
		}
	}

	switch {
	case errors.Is(err, database.ErrDuplicateID):
		return http.StatusConflict, msg("id already exists")
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, msg("not found")
	case errors.Is(err, biometric.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, msg("no face detected in photo")
	case errors.Is(err, biometric.ErrMalformedEmbedding):
		return http.StatusUnprocessableEntity, msg(err.Error())
	case errors.Is(err, embedder.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, msg("image too large")
	case errors.Is(err, embedder.ErrEmptyImage), errors.Is(err, embedder.ErrInvalidImage):
		return http.StatusBadRequest, msg("invalid image")
	case errors.Is(err, attendance.ErrInvalid):
		return http.StatusBadRequest, msg(err.Error())
	case errors.Is(err, attendance.ErrAdminExists):
		return http.StatusConflict, msg("admin already configured")
	case errors.Is(err, attendance.ErrAdminNotConfigured):
		return http.StatusNotFound, msg("admin not configured")
	case errors.Is(err, attendance.ErrFaceMismatch):
		return http.StatusUnauthorized, msg("face not recognized")
	case errors.Is(err, embedder.ErrUnavailable):
		return http.StatusServiceUnavailable, msg("face embedder unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msg("request timed out")
	}
	return http.StatusInternalServerError, msg("internal error")
}

// respondServiceError writes the mapped error, logging unexpected ones.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %s", r.Method, sanitizeForLog(r.URL.Path), sanitizeForLog(err.Error()))
	}
	respondJSON(w, status, body)
}

// faces turns uploaded base64 photos into embeddings.
type faces struct {
	embedder embedder.Embedder
}

// extract decodes a base64 photo and runs it through the embedder.
func (f faces) extract(ctx context.Context, photo string) (biometric.Embedding, error) {
	img, err := embedder.DecodeBase64Image(photo)
	if err != nil {
		return nil, err
	}
	emb, err := f.embedder.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extract face: %w", err)
	}
	return emb, nil
}

// IdentityResponse is the public view of an enrolled identity.
type IdentityResponse struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Name          string    `json:"name"`
	Department    string    `json:"department,omitempty"`
	Subjects      []string  `json:"subjects,omitempty"`
	PIN           string    `json:"pin,omitempty"`
	PhotoBase64   string    `json:"photo_base64,omitempty"`
	HasFace       bool      `json:"has_face"`
	MalformedFace bool      `json:"malformed_face,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func identityResponse(i *database.Identity) IdentityResponse {
	return IdentityResponse{
		ID:            i.ID,
		Role:          string(i.Role),
		Name:          i.Name,
		Department:    i.Department,
		Subjects:      i.Subjects,
		PIN:           i.PIN,
		PhotoBase64:   i.Photo,
		HasFace:       i.HasEncoding(),
		MalformedFace: i.MalformedEncoding,
		CreatedAt:     i.CreatedAt,
	}
}

// RecordResponse is the public view of an attendance record.
type RecordResponse struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Subject     string    `json:"subject"`
	Date        string    `json:"date"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}

func recordResponse(r *database.AttendanceRecord) RecordResponse {
	return RecordResponse{
		ID:          r.ID,
		StudentID:   r.IdentityID,
		StudentName: r.IdentityName,
		Subject:     r.Subject,
		Date:        string(r.Day),
		Timestamp:   r.RecordedAt,
		Status:      string(r.Status),
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
