package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	adminHandler := handlers.NewAdminHandler(s.service, s.embedder, s.sessionManager)
	studentsHandler := handlers.NewStudentsHandler(s.service, s.embedder)
	facultyHandler := handlers.NewFacultyHandler(s.service, s.embedder)
	subjectsHandler := handlers.NewSubjectsHandler(s.subjects)
	attendanceHandler := handlers.NewAttendanceHandler(s.service)
	kioskHandler := handlers.NewKioskHandler(s.service, s.embedder, s.identifyLimit)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Handle("/metrics", promhttp.Handler())

		// The kiosk stream is long-lived and outside the request timeout.
		r.Handle("/kiosk/ws", kioskHandler.Stream())

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Admin bootstrap and face login
			r.Get("/admin/status", adminHandler.Status)
			r.Post("/admin/setup", adminHandler.Setup)
			r.Post("/admin/login", adminHandler.Login)
			r.Post("/admin/logout", adminHandler.Logout)
			r.Get("/admin/session", adminHandler.Session)

			// Kiosk
			r.Get("/subjects", subjectsHandler.List)
			r.With(s.identifyLimit.Handler).Post("/identify", kioskHandler.Identify)
			r.With(s.identifyLimit.Handler).Post("/faculty/identify", kioskHandler.IdentifyFaculty)

			// Management requires an admin session
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.sessionManager))

				r.Get("/students", studentsHandler.List)
				r.Post("/students", studentsHandler.Create)
				r.Get("/students/{id}", studentsHandler.Get)
				r.Put("/students/{id}", studentsHandler.Update)
				r.Delete("/students/{id}", studentsHandler.Delete)

				r.Get("/faculty", facultyHandler.List)
				r.Post("/faculty", facultyHandler.Create)
				r.Get("/faculty/{id}", facultyHandler.Get)
				r.Put("/faculty/{id}", facultyHandler.Update)
				r.Delete("/faculty/{id}", facultyHandler.Delete)

				r.Post("/subjects", subjectsHandler.Create)
				r.Delete("/subjects/{abbr}", subjectsHandler.Delete)

				r.Get("/attendance", attendanceHandler.List)
				r.Get("/attendance/report", attendanceHandler.Report)
				r.Put("/attendance/{id}", attendanceHandler.Update)
			})
		})
	})
}
