package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"golang.org/x/net/websocket"
)

// Limiter decides whether a client may make another identification.
type Limiter interface {
	Allow(client string) bool
}

// KioskHandler serves the public identification endpoints
type KioskHandler struct {
	service *attendance.Service
	faces   faces
	limiter Limiter
}

// NewKioskHandler creates a new kiosk handler. limiter throttles websocket
// frames; HTTP routes are throttled by middleware. It may be nil.
func NewKioskHandler(svc *attendance.Service, emb embedder.Embedder, limiter Limiter) *KioskHandler {
	return &KioskHandler{service: svc, faces: faces{embedder: emb}, limiter: limiter}
}

type identifyRequest struct {
	PhotoBase64 string `json:"photo_base64"`
	Subject     string `json:"subject"`
}

// MatchedPerson is the identity accepted by the matcher.
type MatchedPerson struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Subjects []string `json:"subjects,omitempty"`
}

// IdentifyResponse is the kiosk result for one presented face.
type IdentifyResponse struct {
	Match         bool            `json:"match"`
	Student       *MatchedPerson  `json:"student,omitempty"`
	Faculty       *MatchedPerson  `json:"faculty,omitempty"`
	Distance      float64         `json:"distance,omitempty"`
	Subject       string          `json:"subject,omitempty"`
	AlreadyMarked bool            `json:"already_marked"`
	Record        *RecordResponse `json:"record,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func noMatchReason(o matching.Outcome, who string) string {
	if o == matching.NoCandidates {
		return "no " + who + " enrolled"
	}
	return "unknown face"
}

func markResponse(mark *attendance.Mark) IdentifyResponse {
	resp := IdentifyResponse{Subject: mark.Subject}
	if mark.Match.Outcome != matching.Matched {
		resp.Reason = noMatchReason(mark.Match.Outcome, "students")
		return resp
	}
	resp.Match = true
	resp.Student = &MatchedPerson{ID: mark.Match.Identity.ID, Name: mark.Match.Identity.Name}
	resp.Distance = mark.Match.Distance
	resp.AlreadyMarked = mark.AlreadyMarked
	if mark.Record != nil {
		rec := recordResponse(mark.Record)
		resp.Record = &rec
	}
	return resp
}

func (h *KioskHandler) mark(ctx context.Context, req identifyRequest) (IdentifyResponse, error) {
	emb, err := h.faces.extract(ctx, req.PhotoBase64)
	if err != nil {
		return IdentifyResponse{}, err
	}
	mark, err := h.service.MarkAttendance(ctx, emb, req.Subject)
	if err != nil {
		return IdentifyResponse{}, err
	}
	return markResponse(mark), nil
}

// Identify matches a student face and records attendance for the subject
func (h *KioskHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhotoBase64 == "" {
		respondError(w, http.StatusBadRequest, "photo_base64 is required")
		return
	}

	resp, err := h.mark(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// IdentifyFaculty authenticates a faculty member by face
func (h *KioskHandler) IdentifyFaculty(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
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
	res, err := h.service.IdentifyFaculty(r.Context(), emb)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if res.Outcome != matching.Matched {
		respondJSON(w, http.StatusOK, IdentifyResponse{Reason: noMatchReason(res.Outcome, "faculty")})
		return
	}
	respondJSON(w, http.StatusOK, IdentifyResponse{
		Match:    true,
		Faculty:  &MatchedPerson{ID: res.Identity.ID, Name: res.Identity.Name, Subjects: res.Identity.Subjects},
		Distance: res.Distance,
	})
}

// Stream returns the websocket endpoint. Each JSON frame carries
// {photo_base64, subject} and is answered with an IdentifyResponse.
func (h *KioskHandler) Stream() http.Handler {
	return websocket.Handler(h.stream)
}

func (h *KioskHandler) stream(ws *websocket.Conn) {
	defer ws.Close()
	ctx := ws.Request().Context()
	client := remoteHost(ws.Request())
	timeout := constants.KioskFrameTimeoutSeconds * time.Second

	for {
		ws.SetReadDeadline(time.Now().Add(timeout))
		var req identifyRequest
		if err := websocket.JSON.Receive(ws, &req); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Printf("Kiosk %s idle, closing stream", client)
			default:
				log.Printf("Kiosk %s: failed to read frame: %v", client, err)
			}
			return
		}

		var reply any
		switch {
		case h.limiter != nil && !h.limiter.Allow(client):
			reply = map[string]string{"error": "too many requests"}
		case req.PhotoBase64 == "":
			reply = map[string]string{"error": "photo_base64 is required"}
		default:
			resp, err := h.mark(ctx, req)
			if err != nil {
				var status int
				status, reply = errorResponse(err)
				if status == http.StatusInternalServerError {
					log.Printf("Kiosk %s: %v", client, err)
				}
			} else {
				reply = resp
			}
		}
		if err := websocket.JSON.Send(ws, reply); err != nil {
			log.Printf("Kiosk %s: failed to send reply: %v", client, err)
			return
		}
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
