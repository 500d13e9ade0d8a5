package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/siteservice"
)

// BuildHook observes the outcome of an API-triggered build.
type BuildHook func(rep *siteservice.Report, err error)

// Handler holds API route handlers.
type Handler struct {
	svc     *siteservice.Service
	onBuild BuildHook
}

// NewHandler creates a new Handler.
func NewHandler(svc *siteservice.Service, onBuild BuildHook) *Handler {
	return &Handler{svc: svc, onBuild: onBuild}
}

// filePath extracts the source path from the URL (everything after /files/).
// Supports encoded slashes (e.g. blog%2Fpost.md).
func filePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListFiles handles GET /api/files. The optional tag query filters entries.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Files(r.Context())
	if err != nil {
		slog.Error("list files failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	tag := r.URL.Query().Get("tag")
	resp := FileListResponse{Files: []FileItem{}}
	for _, e := range entries {
		if tag != "" && !slices.Contains(e.Tags, tag) {
			continue
		}
		resp.Files = append(resp.Files, fileItem(e))
	}
	resp.Total = len(resp.Files)
	writeJSON(w, http.StatusOK, resp)
}

// GetFile handles GET /api/files/*.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	e, err := h.svc.File(r.Context(), path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, fileItem(e))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error("get file failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Build handles POST /api/build. ?force=true renders every page.
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	rep, err := h.svc.Build(r.Context(), force)
	if h.onBuild != nil {
		h.onBuild(rep, err)
	}
	if err != nil {
		slog.Error("build failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Prune handles POST /api/prune.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Prune(r.Context())
	if err != nil {
		slog.Error("prune failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}
