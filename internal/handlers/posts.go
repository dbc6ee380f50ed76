package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jeremyjsx/entries-site/internal/pages"
	"github.com/jeremyjsx/entries-site/internal/posts"
)

type PostsHandler struct {
	loader *pages.Loader
	logger *slog.Logger
}

func NewPostsHandler(loader *pages.Loader, logger *slog.Logger) *PostsHandler {
	return &PostsHandler{
		loader: loader,
		logger: logger,
	}
}

type stateResponse struct {
	Phase posts.Phase `json:"phase"`
	posts.State
}

// List returns the cached collection together with its load state so the
// renderer can tell fresh, stale and missing data apart.
func (h *PostsHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.loader.Blog(r.Context())
		writeJSON(w, http.StatusOK, stateResponse{Phase: s.Phase(), State: s})
	}
}

func (h *PostsHandler) GetBySlug() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := r.PathValue("slug")
		if slug == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "slug is required", nil)
			return
		}

		post, err := h.loader.Post(r.Context(), slug)
		if err != nil {
			if errors.Is(err, posts.ErrNotFound) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "post not found", nil)
				return
			}
			h.logger.Error("get post failed", "slug", slug, "error", err)
			writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "blog API unavailable", nil)
			return
		}

		writeJSON(w, http.StatusOK, posts.PostResponse{Post: &post, Status: "success"})
	}
}

func (h *PostsHandler) Entries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.loader.Entries(r.Context()))
	}
}

func (h *PostsHandler) Tags() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.loader.Tags(r.Context()))
	}
}
