package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/siteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// An empty token disables Bearer auth. sseHandler, if non-nil, is mounted at
// GET /events. onBuild, if non-nil, is called after every API-triggered build.
func NewRouter(svc *siteservice.Service, token string, sseHandler http.Handler, onBuild BuildHook) chi.Router {
	h := NewHandler(svc, onBuild)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(token != "", token))

	// Tracked sources.
	r.Get("/files", h.ListFiles)
	r.Get("/files/*", h.GetFile)

	// Builds.
	r.Post("/build", h.Build)
	r.Post("/prune", h.Prune)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
