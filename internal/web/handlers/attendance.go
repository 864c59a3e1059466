package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceHandler serves the attendance ledger to admins
type AttendanceHandler struct {
	service *attendance.Service
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc *attendance.Service) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// parseDay reads the optional ?date= parameter.
func parseDay(r *http.Request) (database.Day, bool) {
	s := r.URL.Query().Get("date")
	if s == "" {
		return "", true
	}
	day, err := database.ParseDay(s)
	if err != nil {
		return "", false
	}
	return day, true
}

// List returns records for ?date= and ?subject=, newest first. Without a
// date the most recent records are returned, capped by ?limit=.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDay(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	filter := database.AttendanceFilter{Day: day, Subject: r.URL.Query().Get("subject")}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, database.DefaultListLimit)
	}

	records, err := h.service.Ledger().List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result := make([]RecordResponse, 0, len(records))
	for i := range records {
		result = append(result, recordResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, result)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// Update overrides the status of a record
func (h *AttendanceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := database.ParseStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	log.Printf("Record %s marked %s by %s", rec.ID, rec.Status, actor(r))
	respondJSON(w, http.StatusOK, recordResponse(rec))
}

// ReportStudent is one row of a session report.
type ReportStudent struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Department string     `json:"department,omitempty"`
	Status     string     `json:"status"`
	RecordID   string     `json:"record_id,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ReportResponse summarizes one subject on one day.
type ReportResponse struct {
	Subject       string          `json:"subject"`
	Date          string          `json:"date"`
	TotalStudents int             `json:"total_students"`
	PresentCount  int             `json:"present_count"`
	Present       []ReportStudent `json:"present_students"`
	Absent        []ReportStudent `json:"absent_students"`
}

func reportStudents(entries []attendance.ReportEntry) []ReportStudent {
	out := make([]ReportStudent, 0, len(entries))
	for _, e := range entries {
		s := ReportStudent{
			ID:         e.ID,
			Name:       e.Name,
			Department: e.Department,
			Status:     string(e.Status),
			RecordID:   e.RecordID,
		}
		if !e.RecordedAt.IsZero() {
			s.Timestamp = &e.RecordedAt
		}
		out = append(out, s)
	}
	return out
}

// Report splits the roster into present and absent for ?subject= on ?date=
// (today by default)
func (h *AttendanceHandler) Report(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDay(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	report, err := h.service.SessionReport(r.Context(), r.URL.Query().Get("subject"), day)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ReportResponse{
		Subject:       report.Subject,
		Date:          string(report.Day),
		TotalStudents: len(report.Present) + len(report.Absent),
		PresentCount:  len(report.Present),
		Present:       reportStudents(report.Present),
		Absent:        reportStudents(report.Absent),
	})
}
