package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cdp-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Key exchange (no auth required)
		r.Post("/auth/token", s.handleToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{name}", s.handleGetDevice)
				r.Get("/stats", s.handleStats)
				r.Get("/inventory", s.handleListInventory)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))
				r.Post("/devices/{name}/open", s.handleOpenDevice)
				r.Post("/devices/{name}/close", s.handleCloseDevice)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceManage))
				r.Post("/devices", s.handleCreateDevice)
				r.Delete("/devices/{name}", s.handleRemoveDevice)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			// Privilege for raw commands is checked by the dispatcher so
			// refusals are audited with EPERM.
			r.Post("/control", s.handleControl)
			r.Get("/control/session", s.handleControlSession)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
