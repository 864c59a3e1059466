package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// SubjectsHandler serves the subject catalog
type SubjectsHandler struct {
	store database.SubjectStore
}

// NewSubjectsHandler creates a new subjects handler
func NewSubjectsHandler(store database.SubjectStore) *SubjectsHandler {
	return &SubjectsHandler{store: store}
}

// List returns all subjects ordered by abbreviation
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []database.Subject{}
	}
	respondJSON(w, http.StatusOK, subjects)
}

// Create adds a subject; an existing abbreviation is a conflict
func (h *SubjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var subject database.Subject
	if !decodeJSON(w, r, &subject) {
		return
	}
	subject.Abbr = strings.ToUpper(strings.TrimSpace(subject.Abbr))
	subject.Code = strings.TrimSpace(subject.Code)
	subject.Name = strings.TrimSpace(subject.Name)
	if subject.Abbr == "" || subject.Name == "" {
		respondError(w, http.StatusBadRequest, "abbr and name are required")
		return
	}
	if utf8.RuneCountInString(subject.Abbr) > constants.MaxSubjectLength || len(subject.Name) > constants.MaxNameLength {
		respondError(w, http.StatusBadRequest, "subject field too long")
		return
	}

	if err := h.store.Add(r.Context(), subject); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, subject)
}

// Delete removes a subject by abbreviation
func (h *SubjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	abbr := strings.ToUpper(chi.URLParam(r, "abbr"))
	if err := h.store.Delete(r.Context(), abbr); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
